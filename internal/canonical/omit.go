package canonical

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Omit removes every field named in paths from the JSON document data and
// returns a new document. Paths use dotted segments with optional array
// indices, e.g. "transactionRequest.gas" or "items[0].price". Paths that do
// not resolve are ignored. data is not modified.
func Omit(data []byte, paths []string) ([]byte, error) {
	parsed := make([][]string, 0, len(paths))
	for _, p := range paths {
		segs, err := SplitPath(p)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, segs)
	}

	// Delete later array elements first so earlier indices stay valid.
	slices.SortFunc(parsed, func(a, b []string) int {
		return -comparePaths(a, b)
	})
	parsed = slices.CompactFunc(parsed, slices.Equal[[]string])

	out := slices.Clone(data)
	for _, segs := range parsed {
		path := sjsonPath(segs)
		if !gjson.GetBytes(out, path).Exists() {
			continue
		}
		next, err := sjson.DeleteBytes(out, path)
		if err != nil {
			return nil, fmt.Errorf("canonical: delete %q: %w", strings.Join(segs, "."), err)
		}
		out = next
	}
	return out, nil
}

// SplitPath turns "a.b[0].c" into ["a", "b", "0", "c"].
func SplitPath(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("canonical: empty path")
	}
	var segs []string
	for _, part := range strings.Split(path, ".") {
		name, rest, hasIndex := strings.Cut(part, "[")
		if name == "" && (!hasIndex || len(segs) == 0) {
			return nil, fmt.Errorf("canonical: invalid path %q", path)
		}
		if name != "" {
			segs = append(segs, name)
		}
		for hasIndex {
			var idx string
			var ok bool
			idx, rest, ok = strings.Cut(rest, "]")
			if !ok {
				return nil, fmt.Errorf("canonical: unterminated index in path %q", path)
			}
			if _, err := strconv.Atoi(idx); err != nil {
				return nil, fmt.Errorf("canonical: invalid index %q in path %q", idx, path)
			}
			segs = append(segs, idx)
			if rest == "" {
				break
			}
			if rest[0] != '[' {
				return nil, fmt.Errorf("canonical: invalid path %q", path)
			}
			rest = rest[1:]
		}
	}
	return segs, nil
}

func sjsonPath(segs []string) string {
	escaped := make([]string, len(segs))
	for i, s := range segs {
		var b strings.Builder
		for _, r := range s {
			switch r {
			case '.', '*', '?', '\\', '|', '#', '@':
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		}
		escaped[i] = b.String()
	}
	return strings.Join(escaped, ".")
}

func comparePaths(a, b []string) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] == b[i] {
			continue
		}
		ai, aErr := strconv.Atoi(a[i])
		bi, bErr := strconv.Atoi(b[i])
		if aErr == nil && bErr == nil {
			return ai - bi
		}
		return strings.Compare(a[i], b[i])
	}
	return len(a) - len(b)
}
