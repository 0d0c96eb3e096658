package carbonblack

import (
	"maps"
	"strings"

	"github.com/PhucNguyen204/cbquery/backend"
)

// TableSelector chọn bảng tìm kiếm (process, binary, ...) từ logsource của rule.
// Là điểm mở rộng tuỳ chọn; query không phụ thuộc vào bảng được chọn.
type TableSelector interface {
	SelectTable(rc backend.RuleContext) (string, bool)
}

// CategoryTables ánh xạ logsource category → bảng.
type CategoryTables map[string]string

// DefaultCategoryTables: các category Sysmon/Windows đều nằm trong bảng process của CB.
func DefaultCategoryTables() CategoryTables {
	return CategoryTables{
		"process_creation":   "process",
		"network_connection": "process",
		"image_load":         "process",
		"file_event":         "process",
		"file_change":        "process",
		"registry_event":     "process",
		"registry_add":       "process",
		"registry_set":       "process",
		"dns_query":          "process",
		"driver_load":        "binary",
	}
}

func (c CategoryTables) SelectTable(rc backend.RuleContext) (string, bool) {
	t, ok := c[strings.ToLower(rc.Category)]
	return t, ok
}

// Merge trả bản sao có thêm các entry của other (ghi đè key trùng).
func (c CategoryTables) Merge(other map[string]string) CategoryTables {
	out := maps.Clone(c)
	if out == nil {
		out = CategoryTables{}
	}
	for k, v := range other {
		out[strings.ToLower(k)] = v
	}
	return out
}
