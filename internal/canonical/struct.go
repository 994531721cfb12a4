package canonical

import (
	"reflect"
	"strconv"
	"strings"
	"sync"
	"unicode/utf16"
)

// field is one JSON member of a struct type, resolved with the encoding/json
// tag rules.
type field struct {
	name      string
	units     []uint16
	index     []int
	omitEmpty bool
	omitZero  bool
	quoted    bool
}

var fieldCache sync.Map // reflect.Type -> []field

func cachedFields(t reflect.Type) []field {
	if f, ok := fieldCache.Load(t); ok {
		return f.([]field)
	}
	f, _ := fieldCache.LoadOrStore(t, typeFields(t))
	return f.([]field)
}

type candidate struct {
	field
	tagged bool
}

// typeFields lists the members encoding/json would write for t. Embedded
// structs are promoted, and among fields sharing a name the shallowest wins,
// with a tagged field breaking ties at equal depth.
func typeFields(t reflect.Type) []field {
	var found []candidate
	visited := map[reflect.Type]bool{}

	type level struct {
		typ   reflect.Type
		index []int
	}
	next := []level{{typ: t}}

	for len(next) > 0 {
		current := next
		next = nil
		seen := map[reflect.Type]int{}
		for _, l := range current {
			seen[l.typ]++
		}

		var depth []candidate
		for _, l := range current {
			if visited[l.typ] {
				continue
			}
			visited[l.typ] = true

			for i := 0; i < l.typ.NumField(); i++ {
				sf := l.typ.Field(i)
				ft := sf.Type
				if sf.Anonymous {
					if ft.Kind() == reflect.Pointer {
						ft = ft.Elem()
					}
					if !sf.IsExported() && ft.Kind() != reflect.Struct {
						continue
					}
				} else if !sf.IsExported() {
					continue
				}

				tag := sf.Tag.Get("json")
				if tag == "-" {
					continue
				}
				name, opts, _ := strings.Cut(tag, ",")

				index := append(append([]int(nil), l.index...), i)

				if name == "" && sf.Anonymous && ft.Kind() == reflect.Struct {
					next = append(next, level{typ: ft, index: index})
					continue
				}

				c := candidate{tagged: name != ""}
				if name == "" {
					name = sf.Name
				}
				c.name = name
				c.units = utf16.Encode([]rune(name))
				c.index = index
				c.omitEmpty = hasOption(opts, "omitempty")
				c.omitZero = hasOption(opts, "omitzero")
				c.quoted = hasOption(opts, "string") && quotable(sf.Type)
				// A type reached twice at one depth cancels its own fields.
				if seen[l.typ] > 1 {
					c.tagged = false
					depth = append(depth, c)
				}
				depth = append(depth, c)
			}
		}
		found = append(found, dominant(depth, found)...)
	}

	fields := make([]field, len(found))
	for i, c := range found {
		fields[i] = c.field
	}
	return fields
}

// dominant keeps, per name, the single field that wins at this depth. Names
// already claimed by a shallower field are dropped.
func dominant(depth, shallower []candidate) []candidate {
	claimed := make(map[string]bool, len(shallower))
	for _, c := range shallower {
		claimed[c.name] = true
	}

	byName := map[string][]candidate{}
	var order []string
	for _, c := range depth {
		if claimed[c.name] {
			continue
		}
		if _, ok := byName[c.name]; !ok {
			order = append(order, c.name)
		}
		byName[c.name] = append(byName[c.name], c)
	}

	var out []candidate
	for _, name := range order {
		cs := byName[name]
		if len(cs) == 1 {
			out = append(out, cs[0])
			continue
		}
		var tagged []candidate
		for _, c := range cs {
			if c.tagged {
				tagged = append(tagged, c)
			}
		}
		if len(tagged) == 1 {
			out = append(out, tagged[0])
		}
	}
	return out
}

func hasOption(opts, name string) bool {
	for opts != "" {
		var o string
		o, opts, _ = strings.Cut(opts, ",")
		if o == name {
			return true
		}
	}
	return false
}

func quotable(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// fieldByIndex follows index through embedded pointers. It reports false
// when a nil embedded pointer hides the field.
func fieldByIndex(v reflect.Value, index []int) (reflect.Value, bool) {
	for i, x := range index {
		if i > 0 && v.Kind() == reflect.Pointer {
			if v.IsNil() {
				return reflect.Value{}, false
			}
			v = v.Elem()
		}
		v = v.Field(x)
	}
	return v, true
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64,
		reflect.Interface, reflect.Pointer:
		return v.IsZero()
	}
	return false
}

func isZeroValue(v reflect.Value) bool {
	if z, ok := v.Interface().(interface{ IsZero() bool }); ok {
		if v.Kind() == reflect.Pointer && v.IsNil() {
			return true
		}
		return z.IsZero()
	}
	return v.IsZero()
}

func (e *encoder) structValue(v reflect.Value, depth int) error {
	fields := cachedFields(v.Type())
	members := make([]member, 0, len(fields))
	for _, f := range fields {
		fv, ok := fieldByIndex(v, f.index)
		if !ok || isUndefined(fv) {
			continue
		}
		if f.omitEmpty && isEmptyValue(fv) {
			continue
		}
		if f.omitZero && isZeroValue(fv) {
			continue
		}
		members = append(members, member{key: f.name, units: f.units, value: fv, quoted: f.quoted})
	}
	return e.members(members, depth)
}

// quotedValue writes a scalar tagged with the ",string" option as a JSON
// string holding its canonical form.
func (e *encoder) quotedValue(v reflect.Value, depth int) error {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			e.buf = append(e.buf, "null"...)
			return nil
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		e.string(strconv.FormatInt(v.Int(), 10))
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		e.string(strconv.FormatUint(v.Uint(), 10))
		return nil
	}
	inner := &encoder{}
	if err := inner.value(v, depth); err != nil {
		return err
	}
	e.string(string(inner.buf))
	return nil
}
