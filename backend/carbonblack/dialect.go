package carbonblack

// Các biến thể cú pháp Carbon Black theo phiên bản sản phẩm.

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PhucNguyen204/cbquery/backend"
)

// Dialect gom các khác biệt giữa phiên bản: token, escape, null-test, sửa double negation.
// Giá trị bất biến; dùng WithX để tạo biến thể.
type Dialect struct {
	Name   string
	Tokens backend.Tokens

	// Ký tự cần escape (mỗi match được thêm tiền tố `\`)
	Escape *regexp.Regexp

	// Bỏ '*' ở đầu giá trị cmdline (tokenizer của CB đã match không cần prefix)
	StripCmdlineWildcard bool

	// Viết lại NOT(NOT x) thành (x) sau khi render
	RepairDoubleNegation bool

	// Token không được xuất hiện trong query cuối
	Forbidden []string
}

func baseTokens() backend.Tokens {
	return backend.Tokens{
		And:               " ",
		Or:                " OR ",
		Not:               "-",
		SubExpression:     "(%s)",
		ListExpression:    "(%s)",
		ListSeparator:     " OR ",
		ValueExpression:   "%s",
		NullExpression:    "-%s:*",
		NotNullExpression: "%s:*",
		MapExpression:     "%s:%s",
	}
}

// ResponseDialect: Carbon Black Response, null-test có ngoặc kép.
func ResponseDialect() Dialect {
	tk := baseTokens()
	tk.NullExpression = `-%s:"*"`
	tk.NotNullExpression = `%s:"*"`
	return Dialect{
		Name:                 "response",
		Tokens:               tk,
		Escape:               regexp.MustCompile(`([ "])`),
		StripCmdlineWildcard: true,
		RepairDoubleNegation: false,
		Forbidden:            []string{"<", ">"},
	}
}

// EDRDialect: Carbon Black EDR, escape rộng hơn và có sửa double negation.
func EDRDialect() Dialect {
	return Dialect{
		Name:                 "edr",
		Tokens:               baseTokens(),
		Escape:               regexp.MustCompile(`([ "()\\:])`),
		StripCmdlineWildcard: true,
		RepairDoubleNegation: true,
		Forbidden:            []string{"<", ">"},
	}
}

// CloudDialect: Carbon Black Cloud, NOT dạng từ khoá.
func CloudDialect() Dialect {
	tk := baseTokens()
	tk.Not = "NOT "
	tk.NullExpression = "NOT %s:*"
	return Dialect{
		Name:                 "cloud",
		Tokens:               tk,
		Escape:               regexp.MustCompile(`([ "()\\:/])`),
		StripCmdlineWildcard: false,
		RepairDoubleNegation: true,
		Forbidden:            []string{"<", ">"},
	}
}

// DefaultDialect là Response.
func DefaultDialect() Dialect { return ResponseDialect() }

// Dialects trả về các preset theo thứ tự cố định.
func Dialects() []Dialect {
	return []Dialect{ResponseDialect(), EDRDialect(), CloudDialect()}
}

// DialectByName tra preset theo tên (không phân biệt hoa thường, "" = mặc định).
func DialectByName(name string) (Dialect, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return DefaultDialect(), nil
	}
	for _, d := range Dialects() {
		if d.Name == n {
			return d, nil
		}
	}
	return Dialect{}, fmt.Errorf("unknown dialect %q", name)
}

func (d Dialect) String() string { return d.Name }

// EscapeValue thêm `\` trước mỗi ký tự thuộc tập escape của dialect.
func (d Dialect) EscapeValue(v string) string {
	if d.Escape == nil {
		return v
	}
	return d.Escape.ReplaceAllString(v, `\${1}`)
}

func (d Dialect) WithName(name string) Dialect {
	d.Name = name
	return d
}

func (d Dialect) WithTokens(tk backend.Tokens) Dialect {
	d.Tokens = tk
	return d
}

// WithEscape panics on an invalid pattern, like regexp.MustCompile.
func (d Dialect) WithEscape(pattern string) Dialect {
	d.Escape = regexp.MustCompile(pattern)
	return d
}

func (d Dialect) WithCmdlineWildcardStrip(enable bool) Dialect {
	d.StripCmdlineWildcard = enable
	return d
}

func (d Dialect) WithDoubleNegationRepair(enable bool) Dialect {
	d.RepairDoubleNegation = enable
	return d
}

func (d Dialect) WithForbidden(tokens ...string) Dialect {
	d.Forbidden = append([]string(nil), tokens...)
	return d
}
