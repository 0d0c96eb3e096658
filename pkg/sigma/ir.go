package sigma

import "strings"

// Node là một nút của cây biểu thức đã parse từ rule.
// Các biến thể: MapItem, And, Or, Not, ListValue, Keyword.
type Node interface {
	isNode()
}

// MapItem: điều kiện lá field = value.
// Value là string | []string (các giá trị thay thế, theo thứ tự) | Null | NotNull.
type MapItem struct {
	Field string
	Value any
}

// And: tất cả các con phải khớp.
type And struct {
	Children []Node
}

// Or: ít nhất một con khớp.
type Or struct {
	Children []Node
}

// Not phủ định một nút con.
type Not struct {
	Child Node
}

// ListValue là danh sách keyword (không gắn field), ngữ nghĩa any-of.
type ListValue struct {
	Items []string
}

// Keyword là một giá trị trần (keyword search).
type Keyword string

// Null: field không tồn tại / rỗng.
type Null struct{}

// NotNull: field tồn tại.
type NotNull struct{}

func (MapItem) isNode()   {}
func (And) isNode()       {}
func (Or) isNode()        {}
func (Not) isNode()       {}
func (ListValue) isNode() {}
func (Keyword) isNode()   {}

// Logsource mirrors the rule's logsource block. Absent keys stay empty.
type Logsource struct {
	Category string
	Product  string
	Service  string
}

// Rule IR
type RuleIR struct {
	ID          string
	Title       string
	Level       string
	Description string
	Logsource   Logsource
	Tree        Node
}

// Fields trả về danh sách field (không trùng, theo thứ tự gặp) được tham chiếu trong cây.
func Fields(n Node) []string {
	seen := map[string]struct{}{}
	var out []string
	var walk func(Node)
	walk = func(n Node) {
		switch t := n.(type) {
		case MapItem:
			if _, ok := seen[t.Field]; !ok {
				seen[t.Field] = struct{}{}
				out = append(out, t.Field)
			}
		case And:
			for _, c := range t.Children {
				walk(c)
			}
		case Or:
			for _, c := range t.Children {
				walk(c)
			}
		case Not:
			walk(t.Child)
		}
	}
	if n != nil {
		walk(n)
	}
	return out
}

// String renders the tree in a compact debug form, e.g. AND(Image=x, NOT(User=y)).
func String(n Node) string {
	var sb strings.Builder
	writeNode(&sb, n)
	return sb.String()
}

func writeNode(sb *strings.Builder, n Node) {
	switch t := n.(type) {
	case MapItem:
		sb.WriteString(t.Field)
		sb.WriteByte('=')
		switch v := t.Value.(type) {
		case string:
			sb.WriteString(v)
		case []string:
			sb.WriteByte('[')
			sb.WriteString(strings.Join(v, ","))
			sb.WriteByte(']')
		case Null:
			sb.WriteString("null")
		case NotNull:
			sb.WriteString("*")
		}
	case And:
		writeGroup(sb, "AND", t.Children)
	case Or:
		writeGroup(sb, "OR", t.Children)
	case Not:
		sb.WriteString("NOT(")
		writeNode(sb, t.Child)
		sb.WriteByte(')')
	case ListValue:
		sb.WriteString("LIST[")
		sb.WriteString(strings.Join(t.Items, ","))
		sb.WriteByte(']')
	case Keyword:
		sb.WriteString(string(t))
	case nil:
		sb.WriteString("<nil>")
	}
}

func writeGroup(sb *strings.Builder, name string, children []Node) {
	sb.WriteString(name)
	sb.WriteByte('(')
	for i, c := range children {
		if i > 0 {
			sb.WriteString(", ")
		}
		writeNode(sb, c)
	}
	sb.WriteByte(')')
}
