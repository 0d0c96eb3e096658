package carbonblack

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/PhucNguyen204/cbquery/backend"
)

const pathSeparators = `\/`

// normalizeValue: NFC rồi gộp wildcard dính khoảng trắng ("* " → "*", " *" → "*").
func normalizeValue(v string) string {
	v = norm.NFC.String(v)
	for strings.HasPrefix(v, "* ") {
		v = "*" + v[2:]
	}
	for strings.HasSuffix(v, " *") {
		v = v[:len(v)-2] + "*"
	}
	return v
}

// bareName nhận dạng "*\name" / "*/name": đúng một separator, đứng ngay sau wildcard.
func bareName(v string) (string, bool) {
	if len(v) < 3 || v[0] != '*' || !strings.ContainsRune(pathSeparators, rune(v[1])) {
		return "", false
	}
	rest := v[2:]
	if strings.ContainsAny(rest, pathSeparators) {
		return "", false
	}
	return rest, true
}

func separatorCount(v string) int {
	n := 0
	for i := 0; i < len(v); i++ {
		if v[i] == '\\' || v[i] == '/' {
			n++
		}
	}
	return n
}

// collapsePath: "*\name" → "name"; đường dẫn nhiều đoạn chỉ hợp lệ với field FullPath.
func collapsePath(field string, spec FieldSpec, v string) (string, error) {
	if name, ok := bareName(v); ok {
		return name, nil
	}
	if separatorCount(v) > 1 && !spec.FullPath {
		return "", &backend.UnsupportedFeatureError{
			Field:  field,
			Value:  v,
			Reason: fmt.Sprintf("multi-segment paths are not supported for %s", spec.Target),
		}
	}
	return v, nil
}

// renderCmdline: không escape; CB tách cmdline theo từ nên mỗi từ là một điều kiện AND.
func renderCmdline(d Dialect, spec FieldSpec, v string) string {
	if d.StripCmdlineWildcard {
		v = strings.TrimLeft(v, "*")
	}
	words := strings.Fields(v)
	if len(words) == 0 {
		return fmt.Sprintf(d.Tokens.MapExpression, spec.Target, "*")
	}
	terms := make([]string, len(words))
	for i, w := range words {
		terms[i] = fmt.Sprintf(d.Tokens.MapExpression, spec.Target, w)
	}
	if len(terms) == 1 {
		return terms[0]
	}
	return fmt.Sprintf(d.Tokens.SubExpression, strings.Join(terms, d.Tokens.And))
}

// escapeKeyword escape một keyword đứng độc lập. Term mở đầu bằng "-" hoặc bằng
// từ khoá NOT của dialect sẽ bị CB đọc thành phủ định, nên ký tự đầu được escape.
func escapeKeyword(d Dialect, v string) string {
	e := d.EscapeValue(normalizeValue(v))
	if strings.HasPrefix(e, "-") {
		return `\` + e
	}
	word := strings.TrimSpace(d.Tokens.Not)
	if word == "" || word == "-" || len(e) < len(word) || !strings.EqualFold(e[:len(word)], word) {
		return e
	}
	if rest := e[len(word):]; rest == "" || strings.HasPrefix(rest, " ") || strings.HasPrefix(rest, `\ `) {
		return `\` + e
	}
	return e
}

// quoteEmpty: giá trị rỗng phải hiện diện dưới dạng "".
func quoteEmpty(v string) string {
	if v == "" {
		return `""`
	}
	return v
}

// renderValue áp dụng chuỗi chuẩn hoá cho một giá trị scalar theo loại field.
func renderValue(d Dialect, field string, spec FieldSpec, raw string) (string, error) {
	v := normalizeValue(raw)

	switch spec.Kind {
	case FieldFunc:
		if spec.Render != nil {
			return spec.Render(d, field, v)
		}
	case FieldCmdline:
		return renderCmdline(d, spec, v), nil
	case FieldPath:
		collapsed, err := collapsePath(field, spec, v)
		if err != nil {
			return "", err
		}
		v = collapsed
	}
	return fmt.Sprintf(d.Tokens.MapExpression, spec.Target, quoteEmpty(d.EscapeValue(v))), nil
}
