package carbonblack

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/PhucNguyen204/cbquery/backend"
	"github.com/PhucNguyen204/cbquery/pkg/sigma"
)

// FieldKind chọn đường xử lý giá trị cho field.
type FieldKind int

const (
	FieldPlain   FieldKind = iota // escape + field:value
	FieldPath                     // gộp "*\name" → "name"
	FieldCmdline                  // không escape, tách từ
	FieldFunc                     // Render tự dựng leaf
)

func (k FieldKind) String() string {
	switch k {
	case FieldPlain:
		return "plain"
	case FieldPath:
		return "path"
	case FieldCmdline:
		return "cmdline"
	case FieldFunc:
		return "func"
	default:
		return "unknown"
	}
}

// RenderFunc dựng toàn bộ leaf cho một giá trị đã chuẩn hoá (NFC + trim).
type RenderFunc func(d Dialect, field, value string) (string, error)

// FieldSpec là một entry của bảng mapping.
type FieldSpec struct {
	Target string
	Kind   FieldKind
	// FullPath: field path chấp nhận đường dẫn nhiều đoạn
	FullPath bool
	Render   RenderFunc
}

// FieldTable ánh xạ tên field Sigma → field Carbon Black.
// Dựng một lần khi tạo Translator, sau đó chỉ đọc.
type FieldTable struct {
	specs map[string]FieldSpec
}

// NewFieldTable tạo bảng rỗng.
func NewFieldTable() FieldTable {
	return FieldTable{specs: make(map[string]FieldSpec)}
}

// DefaultFieldTable trả bảng mapping chuẩn của Carbon Black.
func DefaultFieldTable() FieldTable {
	ft := NewFieldTable()

	plain := map[string]string{
		"AccountName":         "username",
		"User":                "username",
		"Company":             "company_name",
		"ComputerName":        "hostname",
		"DestinationHostname": "domain",
		"DestinationIp":       "ipaddr",
		"DestinationPort":     "ipport",
		"EventType":           "ActionType",
		"Imphash":             "md5",
		"OriginalFilename":    "internal_name",
		"OriginalFileName":    "internal_name",
		"Product":             "product_name",
	}
	for k, v := range plain {
		ft.Add(k, FieldSpec{Target: v})
	}

	for _, k := range []string{"Command", "CommandLine", "ProcessCommandLine", "ScriptBlockText"} {
		ft.Add(k, FieldSpec{Target: "cmdline", Kind: FieldCmdline})
	}

	ft.Add("ParentImage", FieldSpec{Target: "parent_name", Kind: FieldPath})
	ft.Add("SourceImage", FieldSpec{Target: "parent_name", Kind: FieldPath})
	ft.Add("TargetImage", FieldSpec{Target: "childproc_name", Kind: FieldPath})
	ft.Add("NewProcessName", FieldSpec{Target: "process_name", Kind: FieldPath})
	ft.Add("ImageLoaded", FieldSpec{Target: "modload", Kind: FieldPath, FullPath: true})
	ft.Add("TargetFilename", FieldSpec{Target: "filemod", Kind: FieldPath, FullPath: true})
	ft.Add("TargetObject", FieldSpec{Target: "regmod", Kind: FieldPath, FullPath: true})

	ft.Add("Image", FieldSpec{Target: "path", Kind: FieldFunc, Render: renderImage})
	ft.Add("DestinationIsIpv6", FieldSpec{Target: "ipv6addr", Kind: FieldFunc, Render: renderIPv6Flag})

	return ft
}

// Add thêm hoặc ghi đè entry.
func (ft *FieldTable) Add(generic string, spec FieldSpec) {
	if ft.specs == nil {
		ft.specs = make(map[string]FieldSpec)
	}
	ft.specs[generic] = spec
}

// AddMapping đổi target của field; field mới được thêm dạng plain.
// Field có Render riêng bị thay bằng mapping plain.
func (ft *FieldTable) AddMapping(generic, target string) {
	spec, ok := ft.Lookup(generic)
	if !ok || spec.Kind == FieldFunc {
		spec = FieldSpec{}
	}
	spec.Target = target
	ft.Add(generic, spec)
}

// SetFullPath bật/tắt khả năng nhận full path; false nếu field không phải path.
func (ft *FieldTable) SetFullPath(generic string, enable bool) bool {
	spec, ok := ft.Lookup(generic)
	if !ok || spec.Kind != FieldPath {
		return false
	}
	spec.FullPath = enable
	ft.specs[generic] = spec
	return true
}

// Lookup là tra cứu tường minh found/not-found; caller đổi not-found thành UnsupportedFieldError.
func (ft FieldTable) Lookup(generic string) (FieldSpec, bool) {
	spec, ok := ft.specs[generic]
	return spec, ok
}

func (ft FieldTable) HasMapping(generic string) bool {
	_, ok := ft.specs[generic]
	return ok
}

// Mappings trả bản sao generic → target.
func (ft FieldTable) Mappings() map[string]string {
	out := make(map[string]string, len(ft.specs))
	for k, v := range ft.specs {
		out[k] = v.Target
	}
	return out
}

// Names trả tên field đã sắp xếp.
func (ft FieldTable) Names() []string {
	return slices.Sorted(maps.Keys(ft.specs))
}

func (ft FieldTable) Clone() FieldTable {
	return FieldTable{specs: maps.Clone(ft.specs)}
}

// Check trả UnsupportedFieldError cho field đầu tiên của cây không có mapping.
func (ft FieldTable) Check(tree sigma.Node) error {
	for _, f := range sigma.Fields(tree) {
		if !ft.HasMapping(f) {
			return &backend.UnsupportedFieldError{Field: f}
		}
	}
	return nil
}

// renderImage: "*\name" → process_name:name, còn lại path:value.
func renderImage(d Dialect, field, value string) (string, error) {
	if name, ok := bareName(value); ok {
		return fmt.Sprintf(d.Tokens.MapExpression, "process_name", d.EscapeValue(name)), nil
	}
	return fmt.Sprintf(d.Tokens.MapExpression, "path", quoteEmpty(d.EscapeValue(value))), nil
}

// renderIPv6Flag: true → ipv6addr tồn tại, false → không tồn tại.
func renderIPv6Flag(d Dialect, field, value string) (string, error) {
	switch strings.ToLower(value) {
	case "true", "yes", "1":
		return fmt.Sprintf(d.Tokens.NotNullExpression, "ipv6addr"), nil
	case "false", "no", "0":
		return fmt.Sprintf(d.Tokens.NullExpression, "ipv6addr"), nil
	default:
		return "", &backend.UnsupportedFeatureError{Field: field, Value: value, Reason: "expected a boolean"}
	}
}
