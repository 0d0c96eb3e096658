package sigma

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	xunicode "golang.org/x/text/encoding/unicode"
)

// Cờ modifier phát sinh từ "Field|mod1|mod2"
type fieldModifiers struct {
	wildcard   string // "", "contains", "startswith", "endswith"
	requireAll bool   // all
	exists     bool   // exists
	// biến đổi giá trị, áp dụng theo đúng thứ tự khai báo
	transforms []string
}

func parseModifiers(mods []string) (fieldModifiers, error) {
	var out fieldModifiers
	for _, m := range mods {
		mod := strings.ToLower(strings.TrimSpace(m))
		switch mod {
		case "contains", "startswith", "endswith":
			out.wildcard = mod
		case "all":
			out.requireAll = true
		case "exists":
			out.exists = true
		case "base64", "base64offset", "wide", "utf16le", "utf16", "utf16be", "windash":
			out.transforms = append(out.transforms, mod)
		case "cased":
			// Carbon Black search is case-insensitive anyway
		case "":
		default:
			// re, cidr, lt/lte/gt/gte, expand, fieldref ... không biểu diễn được bằng text query
			return out, fmt.Errorf("%w: %q", ErrUnsupportedModifier, m)
		}
	}
	return out, nil
}

// buildFieldNode turns one field matcher (field, modifiers, raw values) into a node.
func buildFieldNode(field string, mods []string, raw []any) (Node, error) {
	fm, err := parseModifiers(mods)
	if err != nil {
		return nil, err
	}

	if fm.exists {
		want := true
		if len(raw) == 1 {
			if b, ok := raw[0].(bool); ok {
				want = b
			} else if s, ok := raw[0].(string); ok {
				want = !strings.EqualFold(s, "false")
			}
		}
		if want {
			return MapItem{Field: field, Value: NotNull{}}, nil
		}
		return MapItem{Field: field, Value: Null{}}, nil
	}

	var values []string
	hasNull := false
	for _, v := range raw {
		if v == nil {
			hasNull = true
			continue
		}
		variants, err := applyTransforms(toString(v), fm.transforms)
		if err != nil {
			return nil, err
		}
		for _, s := range variants {
			values = append(values, applyWildcard(s, fm.wildcard))
		}
	}

	var nodes []Node
	if hasNull {
		nodes = append(nodes, MapItem{Field: field, Value: Null{}})
	}
	switch {
	case len(values) == 1:
		nodes = append(nodes, MapItem{Field: field, Value: values[0]})
	case len(values) > 1 && fm.requireAll:
		for _, v := range values {
			nodes = append(nodes, MapItem{Field: field, Value: v})
		}
	case len(values) > 1:
		nodes = append(nodes, MapItem{Field: field, Value: values})
	}

	switch {
	case len(nodes) == 0:
		return MapItem{Field: field, Value: ""}, nil
	case len(nodes) == 1:
		return nodes[0], nil
	case fm.requireAll:
		return And{Children: nodes}, nil
	default:
		return Or{Children: nodes}, nil
	}
}

func applyWildcard(v, mode string) string {
	switch mode {
	case "contains":
		return "*" + v + "*"
	case "startswith":
		return v + "*"
	case "endswith":
		return "*" + v
	default:
		return v
	}
}

// applyTransforms chạy lần lượt các modifier biến đổi; một giá trị có thể sinh nhiều biến thể.
func applyTransforms(v string, transforms []string) ([]string, error) {
	cur := []string{v}
	for _, t := range transforms {
		next := make([]string, 0, len(cur))
		for _, s := range cur {
			switch t {
			case "windash":
				next = append(next, windashVariants(s)...)
			case "wide", "utf16le":
				enc, err := xunicode.UTF16(xunicode.LittleEndian, xunicode.IgnoreBOM).NewEncoder().String(s)
				if err != nil {
					return nil, fmt.Errorf("encode %s: %w", t, err)
				}
				next = append(next, enc)
			case "utf16be":
				enc, err := xunicode.UTF16(xunicode.BigEndian, xunicode.IgnoreBOM).NewEncoder().String(s)
				if err != nil {
					return nil, fmt.Errorf("encode %s: %w", t, err)
				}
				next = append(next, enc)
			case "utf16":
				enc, err := xunicode.UTF16(xunicode.LittleEndian, xunicode.UseBOM).NewEncoder().String(s)
				if err != nil {
					return nil, fmt.Errorf("encode %s: %w", t, err)
				}
				next = append(next, enc)
			case "base64":
				next = append(next, base64.StdEncoding.EncodeToString([]byte(s)))
			case "base64offset":
				next = append(next, encodeBase64Offsets([]byte(s))...)
			}
		}
		cur = dedupe(next)
	}
	return cur, nil
}

// encodeBase64Offsets trả 3 biến thể base64 ứng với độ lệch 0..2 byte,
// đã cắt bỏ phần đầu/cuối phụ thuộc vào ký tự lân cận.
func encodeBase64Offsets(b []byte) []string {
	if len(b) == 0 {
		return []string{""}
	}
	start := [3]int{0, 2, 3}
	endTrim := [3]int{0, 3, 2}
	out := make([]string, 0, 3)
	for off := 0; off < 3; off++ {
		padded := append(bytes.Repeat([]byte(" "), off), b...)
		enc := base64.StdEncoding.EncodeToString(padded)
		end := len(enc) - endTrim[(len(b)+off)%3]
		if start[off] > end {
			continue
		}
		out = append(out, enc[start[off]:end])
	}
	return out
}

var reWindashFlag = regexp.MustCompile(`(^|\s)[-/–—―]`)

// windashVariants: các biến thể cờ dòng lệnh Windows ('-', '/', en/em dash).
func windashVariants(s string) []string {
	if !reWindashFlag.MatchString(s) {
		return []string{s}
	}
	out := make([]string, 0, 5)
	for _, dash := range []string{"-", "/", "–", "—", "―"} {
		out = append(out, reWindashFlag.ReplaceAllString(s, "${1}"+dash))
	}
	return dedupe(out)
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(t)
	}
}
