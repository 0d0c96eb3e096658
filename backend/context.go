package backend

import (
	"strings"

	"github.com/PhucNguyen204/cbquery/pkg/sigma"
)

// RuleContext là metadata của rule đang dịch. Tạo mới cho mỗi lần Generate
// và truyền tường minh qua chuỗi render; không lưu trên translator.
type RuleContext struct {
	Category string
	Product  string
	Service  string
}

// NewRuleContext lấy logsource của rule; key vắng mặt để rỗng.
func NewRuleContext(ls sigma.Logsource) RuleContext {
	return RuleContext{
		Category: strings.ToLower(strings.TrimSpace(ls.Category)),
		Product:  strings.ToLower(strings.TrimSpace(ls.Product)),
		Service:  strings.ToLower(strings.TrimSpace(ls.Service)),
	}
}
