package carbonblack

import (
	"strings"

	ac "github.com/petar-dambovaliev/aho-corasick"

	"github.com/PhucNguyen204/cbquery/backend"
)

// Validator kiểm tra query đã render trước khi trả cho caller.
// Automaton dựng một lần theo dialect, sau đó chỉ đọc.
type Validator struct {
	forbidden []string
	automaton *ac.AhoCorasick
	not       string
	repair    bool
}

func NewValidator(d Dialect) *Validator {
	v := &Validator{
		forbidden: append([]string(nil), d.Forbidden...),
		not:       d.Tokens.Not,
		repair:    d.RepairDoubleNegation,
	}
	if len(v.forbidden) > 0 {
		builder := ac.NewAhoCorasickBuilder(ac.Opts{
			AsciiCaseInsensitive: false,
			MatchKind:            ac.LeftMostLongestMatch,
		})
		automaton := builder.Build(v.forbidden) // index pattern == index trong forbidden
		v.automaton = &automaton
	}
	return v
}

// Validate trả query (đã sửa double negation nếu dialect bật) hoặc UnsupportedSyntaxError.
// Gọi lại trên kết quả hợp lệ không làm thay đổi chuỗi.
func (v *Validator) Validate(q string) (string, error) {
	if v.automaton != nil {
		if matches := v.automaton.FindAll(q); len(matches) > 0 {
			m := matches[0]
			tok := ""
			if idx := m.Pattern(); idx >= 0 && idx < len(v.forbidden) {
				tok = v.forbidden[idx]
			}
			return "", &backend.UnsupportedSyntaxError{Token: tok, Offset: m.Start()}
		}
	}
	if v.repair && v.not != "" {
		q = v.repairDoubleNegation(q)
	}
	return q, nil
}

func (v *Validator) repairDoubleNegation(q string) string {
	for {
		out, changed := v.repairOnce(q)
		if !changed {
			return q
		}
		q = out
	}
}

// repairOnce viết lại NOT(NOT x) đầu tiên, chỉ khi phủ định trong bao trọn nhóm ngoài.
func (v *Validator) repairOnce(q string) (string, bool) {
	open := v.not + "("
	inQuote := false
	for i := 0; i < len(q); i++ {
		switch c := q[i]; {
		case c == '\\':
			i++
			continue
		case c == '"':
			inQuote = !inQuote
			continue
		case inQuote:
			continue
		}
		if !atBoundary(q, i) || !strings.HasPrefix(q[i:], open) {
			continue
		}
		inner := i + len(open)
		if !strings.HasPrefix(q[inner:], v.not) {
			continue
		}
		content, end, ok := scanTerm(q, inner+len(v.not))
		if !ok || end >= len(q) || q[end] != ')' {
			continue
		}
		return q[:i] + "(" + content + ")" + q[end+1:], true
	}
	return q, false
}

// atBoundary: đầu chuỗi, sau khoảng trắng không bị escape, hoặc sau '('.
func atBoundary(q string, i int) bool {
	if i == 0 {
		return true
	}
	prev := q[i-1]
	if prev != ' ' && prev != '(' {
		return false
	}
	return !escaped(q, i-1)
}

func escaped(q string, i int) bool {
	n := 0
	for j := i - 1; j >= 0 && q[j] == '\\'; j-- {
		n++
	}
	return n%2 == 1
}

// scanTerm đọc một term bắt đầu tại s: nhóm ngoặc cân bằng (trả phần bên trong)
// hoặc leaf tới khoảng trắng / ')' không escape. end là vị trí ngay sau term.
func scanTerm(q string, s int) (content string, end int, ok bool) {
	if s >= len(q) {
		return "", s, false
	}
	depth := 0
	inQuote := false
	group := q[s] == '('
	for i := s; i < len(q); i++ {
		c := q[i]
		switch {
		case c == '\\':
			i++
		case c == '"':
			inQuote = !inQuote
		case inQuote:
		case c == '(':
			depth++
		case c == ')':
			if !group {
				return q[s:i], i, i > s
			}
			depth--
			if depth == 0 {
				return q[s+1 : i], i + 1, true
			}
		case c == ' ' && !group:
			return q[s:i], i, i > s
		}
	}
	if group {
		return "", len(q), false
	}
	return q[s:], len(q), len(q) > s
}
