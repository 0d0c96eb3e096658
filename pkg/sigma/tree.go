package sigma

import (
	"fmt"
	"path"
	"sort"
	"strings"

	sigmago "github.com/bradleyjkemp/sigma-go"
)

// treeBuilder converts the searches + condition AST of a parsed rule into a Node tree.
type treeBuilder struct {
	searches map[string]sigmago.Search
	names    []string // sorted search names, used by "1 of"/"all of"
	cache    map[string]Node
}

func newTreeBuilder(searches map[string]sigmago.Search) *treeBuilder {
	names := make([]string, 0, len(searches))
	for name := range searches {
		names = append(names, name)
	}
	sort.Strings(names)
	return &treeBuilder{searches: searches, names: names, cache: map[string]Node{}}
}

// BuildTree dựng cây biểu thức cho detection; nhiều condition được OR với nhau.
func BuildTree(det sigmago.Detection) (Node, error) {
	if len(det.Conditions) == 0 {
		return nil, fmt.Errorf("%w: detection has no condition", ErrNoDetection)
	}
	b := newTreeBuilder(det.Searches)
	nodes := make([]Node, 0, len(det.Conditions))
	for _, cond := range det.Conditions {
		if cond.Aggregation != nil {
			return nil, ErrAggregation
		}
		n, err := b.expr(cond.Search)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if len(nodes) == 1 {
		return nodes[0], nil
	}
	return Or{Children: nodes}, nil
}

func (b *treeBuilder) expr(e sigmago.SearchExpr) (Node, error) {
	switch t := e.(type) {
	case sigmago.And:
		return b.group(t, true)
	case sigmago.Or:
		return b.group(t, false)
	case sigmago.Not:
		child, err := b.expr(t.Expr)
		if err != nil {
			return nil, err
		}
		return Not{Child: child}, nil
	case sigmago.SearchIdentifier:
		return b.search(t.Name)
	case sigmago.OneOfIdentifier:
		return b.search(t.Ident.Name)
	case sigmago.AllOfIdentifier:
		return b.search(t.Ident.Name)
	case sigmago.OneOfThem:
		return b.pattern("*", false, true)
	case sigmago.AllOfThem:
		return b.pattern("*", true, true)
	case sigmago.OneOfPattern:
		return b.pattern(t.Pattern, false, false)
	case sigmago.AllOfPattern:
		return b.pattern(t.Pattern, true, false)
	default:
		return nil, fmt.Errorf("unsupported condition expression %T", e)
	}
}

func (b *treeBuilder) group(items []sigmago.SearchExpr, and bool) (Node, error) {
	children := make([]Node, 0, len(items))
	for _, it := range items {
		n, err := b.expr(it)
		if err != nil {
			return nil, err
		}
		children = append(children, n)
	}
	if len(children) == 1 {
		return children[0], nil
	}
	if and {
		return And{Children: children}, nil
	}
	return Or{Children: children}, nil
}

// pattern mở rộng "1 of sel*" / "all of them" thành OR/AND các search khớp glob.
// them: search có tên bắt đầu bằng "_" không thuộc "them".
func (b *treeBuilder) pattern(glob string, all, them bool) (Node, error) {
	var children []Node
	for _, name := range b.names {
		if them && strings.HasPrefix(name, "_") {
			continue
		}
		if ok, err := path.Match(glob, name); err != nil {
			return nil, fmt.Errorf("bad search pattern %q: %w", glob, err)
		} else if !ok {
			continue
		}
		n, err := b.search(name)
		if err != nil {
			return nil, err
		}
		children = append(children, n)
	}
	switch {
	case len(children) == 0:
		return nil, fmt.Errorf("%w: no search matches %q", ErrUnknownSearch, glob)
	case len(children) == 1:
		return children[0], nil
	case all:
		return And{Children: children}, nil
	default:
		return Or{Children: children}, nil
	}
}

func (b *treeBuilder) search(name string) (Node, error) {
	if n, ok := b.cache[name]; ok {
		return n, nil
	}
	s, ok := b.searches[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSearch, name)
	}
	n, err := searchNode(s)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", name, err)
	}
	b.cache[name] = n
	return n, nil
}

// searchNode: keywords → ListValue; list of maps → OR; một map → AND các field matcher.
func searchNode(s sigmago.Search) (Node, error) {
	var alts []Node

	if len(s.Keywords) > 0 {
		items := make([]string, 0, len(s.Keywords))
		for _, kw := range s.Keywords {
			items = append(items, toString(any(kw)))
		}
		if len(items) == 1 {
			alts = append(alts, Keyword(items[0]))
		} else {
			alts = append(alts, ListValue{Items: items})
		}
	}

	for _, em := range s.EventMatchers {
		conds := make([]Node, 0, len(em))
		for _, fm := range em {
			raw := make([]any, 0, len(fm.Values))
			for _, v := range fm.Values {
				raw = append(raw, any(v))
			}
			n, err := buildFieldNode(fm.Field, fm.Modifiers, raw)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", fm.Field, err)
			}
			conds = append(conds, n)
		}
		switch len(conds) {
		case 0:
		case 1:
			alts = append(alts, conds[0])
		default:
			alts = append(alts, And{Children: conds})
		}
	}

	switch len(alts) {
	case 0:
		return nil, fmt.Errorf("empty search")
	case 1:
		return alts[0], nil
	default:
		return Or{Children: alts}, nil
	}
}
