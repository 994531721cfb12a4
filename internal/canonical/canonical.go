package canonical

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"slices"
	"strconv"
	"unicode/utf16"
	"unicode/utf8"
)

var (
	// ErrInvalidNumber is returned for NaN and infinite values.
	ErrInvalidNumber = errors.New("canonical: NaN and Infinity are not valid JSON numbers")
	// ErrInvalidString is returned for strings that are not valid UTF-8.
	ErrInvalidString = errors.New("canonical: string is not valid UTF-8")
	// ErrUnsupportedValue is returned for values with no JSON form.
	ErrUnsupportedValue = errors.New("canonical: unsupported value")
)

// maxSafeInteger is 2^53-1, the largest integer a JSON number carries exactly.
const maxSafeInteger = 1<<53 - 1

const maxDepth = 256

var (
	bigIntType    = reflect.TypeFor[big.Int]()
	numberType    = reflect.TypeFor[json.Number]()
	rawType       = reflect.TypeFor[json.RawMessage]()
	marshalerType = reflect.TypeFor[json.Marshaler]()
)

// Marshal returns the RFC 8785 canonical JSON encoding of v.
//
// Go integer kinds are written exactly while they fit in 2^53-1 and as decimal
// strings beyond that, the same as *big.Int. Floats and json.Number use the
// ECMAScript number form. Struct members follow the encoding/json field tag
// rules, and their values are written like any other value. Funcs and channels are dropped from objects and
// written as null inside arrays.
func Marshal(v any) ([]byte, error) {
	e := &encoder{}
	if err := e.value(reflect.ValueOf(v), 0); err != nil {
		return nil, err
	}
	return e.buf, nil
}

// Decode parses JSON bytes into a generic value, keeping numbers as json.Number.
func Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("canonical: trailing data after JSON value")
	}
	return out, nil
}

type encoder struct {
	buf []byte
}

func isUndefined(v reflect.Value) bool {
	if !v.IsValid() {
		return false
	}
	switch v.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return true
	case reflect.Interface:
		if v.IsNil() {
			return false
		}
		return isUndefined(v.Elem())
	}
	return false
}

func (e *encoder) value(v reflect.Value, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("%w: nesting deeper than %d", ErrUnsupportedValue, maxDepth)
	}
	if !v.IsValid() {
		e.buf = append(e.buf, "null"...)
		return nil
	}

	if isUndefined(v) {
		e.buf = append(e.buf, "null"...)
		return nil
	}

	switch v.Type() {
	case bigIntType:
		if v.CanAddr() {
			n := v.Addr().Interface().(*big.Int)
			e.string(n.String())
			return nil
		}
		n := v.Interface().(big.Int)
		e.string(n.String())
		return nil
	case numberType:
		return e.jsonNumber(json.Number(v.String()))
	case rawType:
		return e.reencode(v.Bytes(), depth)
	}

	if v.Kind() == reflect.Pointer && v.Type().Elem() == bigIntType {
		if v.IsNil() {
			e.buf = append(e.buf, "null"...)
			return nil
		}
		e.string(v.Interface().(*big.Int).String())
		return nil
	}

	if v.Kind() != reflect.Interface && v.Type().Implements(marshalerType) {
		if v.Kind() == reflect.Pointer && v.IsNil() {
			e.buf = append(e.buf, "null"...)
			return nil
		}
		return e.marshaler(v.Interface().(json.Marshaler), depth)
	}
	if v.Kind() != reflect.Pointer && v.CanAddr() && reflect.PointerTo(v.Type()).Implements(marshalerType) {
		return e.marshaler(v.Addr().Interface().(json.Marshaler), depth)
	}

	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			e.buf = append(e.buf, "null"...)
			return nil
		}
		return e.value(v.Elem(), depth+1)
	case reflect.Bool:
		e.buf = strconv.AppendBool(e.buf, v.Bool())
		return nil
	case reflect.String:
		if !utf8.ValidString(v.String()) {
			return ErrInvalidString
		}
		e.string(v.String())
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := v.Int()
		if n > maxSafeInteger || n < -maxSafeInteger {
			e.string(strconv.FormatInt(n, 10))
			return nil
		}
		e.buf = strconv.AppendInt(e.buf, n, 10)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n := v.Uint()
		if n > maxSafeInteger {
			e.string(strconv.FormatUint(n, 10))
			return nil
		}
		e.buf = strconv.AppendUint(e.buf, n, 10)
		return nil
	case reflect.Float32:
		return e.float(v.Float(), 32)
	case reflect.Float64:
		return e.float(v.Float(), 64)
	case reflect.Map:
		return e.object(v, depth)
	case reflect.Slice:
		if v.IsNil() {
			e.buf = append(e.buf, "null"...)
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			e.string(base64.StdEncoding.EncodeToString(v.Bytes()))
			return nil
		}
		return e.array(v, depth)
	case reflect.Array:
		return e.array(v, depth)
	case reflect.Struct:
		return e.structValue(v, depth)
	}

	return fmt.Errorf("%w: %s", ErrUnsupportedValue, v.Type())
}

func (e *encoder) marshaler(m json.Marshaler, depth int) error {
	data, err := m.MarshalJSON()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
	}
	return e.reencode(data, depth)
}

func (e *encoder) reencode(data []byte, depth int) error {
	decoded, err := Decode(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
	}
	return e.value(reflect.ValueOf(decoded), depth+1)
}

type member struct {
	key    string
	units  []uint16
	value  reflect.Value
	quoted bool
}

func (e *encoder) object(v reflect.Value, depth int) error {
	if v.IsNil() {
		e.buf = append(e.buf, "null"...)
		return nil
	}

	members := make([]member, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		val := iter.Value()
		if isUndefined(val) {
			continue
		}
		key, err := mapKey(iter.Key())
		if err != nil {
			return err
		}
		members = append(members, member{
			key:   key,
			units: utf16.Encode([]rune(key)),
			value: val,
		})
	}

	return e.members(members, depth)
}

// members writes an object with its members sorted by UTF-16 code units.
func (e *encoder) members(members []member, depth int) error {
	slices.SortFunc(members, func(a, b member) int {
		return slices.Compare(a.units, b.units)
	})

	e.buf = append(e.buf, '{')
	for i, m := range members {
		if i > 0 {
			e.buf = append(e.buf, ',')
		}
		e.string(m.key)
		e.buf = append(e.buf, ':')
		var err error
		if m.quoted {
			err = e.quotedValue(m.value, depth+1)
		} else {
			err = e.value(m.value, depth+1)
		}
		if err != nil {
			return err
		}
	}
	e.buf = append(e.buf, '}')
	return nil
}

func mapKey(k reflect.Value) (string, error) {
	switch k.Kind() {
	case reflect.String:
		if !utf8.ValidString(k.String()) {
			return "", ErrInvalidString
		}
		return k.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(k.Uint(), 10), nil
	}
	return "", fmt.Errorf("%w: map key of type %s", ErrUnsupportedValue, k.Type())
}

func (e *encoder) array(v reflect.Value, depth int) error {
	e.buf = append(e.buf, '[')
	for i := 0; i < v.Len(); i++ {
		if i > 0 {
			e.buf = append(e.buf, ',')
		}
		if err := e.value(v.Index(i), depth+1); err != nil {
			return err
		}
	}
	e.buf = append(e.buf, ']')
	return nil
}

func (e *encoder) jsonNumber(n json.Number) error {
	f, err := strconv.ParseFloat(string(n), 64)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidNumber, string(n))
	}
	return e.float(f, 64)
}

func (e *encoder) float(f float64, bits int) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return ErrInvalidNumber
	}
	e.buf = AppendNumber(e.buf, f, bits)
	return nil
}

const hexDigits = "0123456789abcdef"

func (e *encoder) string(s string) {
	e.buf = append(e.buf, '"')
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 0x20 && c != '"' && c != '\\' {
			continue
		}
		e.buf = append(e.buf, s[start:i]...)
		switch c {
		case '"':
			e.buf = append(e.buf, '\\', '"')
		case '\\':
			e.buf = append(e.buf, '\\', '\\')
		case '\b':
			e.buf = append(e.buf, '\\', 'b')
		case '\f':
			e.buf = append(e.buf, '\\', 'f')
		case '\n':
			e.buf = append(e.buf, '\\', 'n')
		case '\r':
			e.buf = append(e.buf, '\\', 'r')
		case '\t':
			e.buf = append(e.buf, '\\', 't')
		default:
			e.buf = append(e.buf, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xF])
		}
		start = i + 1
	}
	e.buf = append(e.buf, s[start:]...)
	e.buf = append(e.buf, '"')
}
