package backend

import (
	"fmt"
	"strings"

	"github.com/PhucNguyen204/cbquery/pkg/sigma"
)

// Tokens are the text fragments a dialect composes queries from.
// Fields ending in "Expression" are fmt templates with one %s (MapExpression takes two).
type Tokens struct {
	And               string
	Or                string
	Not               string
	SubExpression     string
	ListExpression    string
	ListSeparator     string
	ValueExpression   string
	NullExpression    string
	NotNullExpression string
	MapExpression     string
}

// LeafHook renders the leaves; the generic renderer only knows boolean structure.
type LeafHook interface {
	// RenderLeaf nhận value là string | sigma.Null | sigma.NotNull.
	RenderLeaf(rc RuleContext, field string, value any) (string, error)
	// EscapeValue áp dụng cho keyword (không gắn field).
	EscapeValue(v string) string
}

type nodeKind int

const (
	kindAtom nodeKind = iota
	kindAnd
	kindOr
)

type rendered struct {
	text string
	kind nodeKind
}

// TextRenderer walks an expression tree depth first and composes one query string.
type TextRenderer struct {
	Tokens Tokens
	Leaf   LeafHook
}

func (r TextRenderer) Render(rc RuleContext, n sigma.Node) (string, error) {
	out, err := r.render(rc, n)
	if err != nil {
		return "", err
	}
	return out.text, nil
}

func (r TextRenderer) render(rc RuleContext, n sigma.Node) (rendered, error) {
	switch t := n.(type) {
	case sigma.MapItem:
		return r.mapItem(rc, t)
	case sigma.And:
		return r.group(rc, t.Children, kindAnd)
	case sigma.Or:
		return r.group(rc, t.Children, kindOr)
	case sigma.Not:
		return r.not(rc, t)
	case sigma.ListValue:
		return r.list(t.Items), nil
	case sigma.Keyword:
		return rendered{text: fmt.Sprintf(r.Tokens.ValueExpression, r.Leaf.EscapeValue(string(t)))}, nil
	case nil:
		return rendered{}, nil
	default:
		return rendered{}, fmt.Errorf("unknown node type %T", n)
	}
}

// mapItem: danh sách giá trị → OR các điều kiện đơn trên cùng field, trong ngoặc.
func (r TextRenderer) mapItem(rc RuleContext, item sigma.MapItem) (rendered, error) {
	values, ok := item.Value.([]string)
	if !ok {
		s, err := r.Leaf.RenderLeaf(rc, item.Field, item.Value)
		return rendered{text: s}, err
	}
	parts := make([]string, 0, len(values))
	for _, v := range values {
		s, err := r.Leaf.RenderLeaf(rc, item.Field, v)
		if err != nil {
			return rendered{}, err
		}
		if s != "" {
			parts = append(parts, s)
		}
	}
	switch len(parts) {
	case 0:
		return rendered{}, nil
	case 1:
		return rendered{text: parts[0]}, nil
	default:
		return rendered{text: fmt.Sprintf(r.Tokens.SubExpression, strings.Join(parts, r.Tokens.Or))}, nil
	}
}

func (r TextRenderer) group(rc RuleContext, children []sigma.Node, kind nodeKind) (rendered, error) {
	outs := make([]rendered, 0, len(children))
	for _, c := range children {
		out, err := r.render(rc, c)
		if err != nil {
			return rendered{}, err
		}
		if out.text != "" {
			outs = append(outs, out)
		}
	}
	switch len(outs) {
	case 0:
		return rendered{}, nil
	case 1:
		// một con duy nhất: giữ nguyên để tránh ngoặc thừa
		return outs[0], nil
	}

	sep := r.Tokens.And
	if kind == kindOr {
		sep = r.Tokens.Or
	}
	parts := make([]string, len(outs))
	for i, out := range outs {
		parts[i] = out.text
		if out.kind != kindAtom && out.kind != kind {
			parts[i] = fmt.Sprintf(r.Tokens.SubExpression, out.text)
		}
	}
	return rendered{text: strings.Join(parts, sep), kind: kind}, nil
}

func (r TextRenderer) not(rc RuleContext, n sigma.Not) (rendered, error) {
	out, err := r.render(rc, n.Child)
	if err != nil || out.text == "" {
		return rendered{}, err
	}
	text := out.text
	if out.kind != kindAtom || strings.HasPrefix(text, r.Tokens.Not) {
		text = fmt.Sprintf(r.Tokens.SubExpression, text)
	}
	return rendered{text: r.Tokens.Not + text}, nil
}

func (r TextRenderer) list(items []string) rendered {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, fmt.Sprintf(r.Tokens.ValueExpression, r.Leaf.EscapeValue(it)))
	}
	switch len(parts) {
	case 0:
		return rendered{}
	case 1:
		return rendered{text: parts[0]}
	default:
		return rendered{text: fmt.Sprintf(r.Tokens.ListExpression, strings.Join(parts, r.Tokens.ListSeparator))}
	}
}
