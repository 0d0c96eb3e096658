// Package carbonblack translates Sigma rule trees into Carbon Black search queries.
//
// A Translator is immutable after New; all per-rule state (the RuleContext)
// lives on the stack of a single Generate call, so one instance can serve
// concurrent callers.
package carbonblack

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/PhucNguyen204/cbquery/backend"
	"github.com/PhucNguyen204/cbquery/pkg/sigma"
)

// Result là kết quả dịch một rule.
type Result struct {
	RuleID string `json:"rule_id"`
	Title  string `json:"title"`
	Query  string `json:"query"`
	Table  string `json:"table,omitempty"`
}

type Option func(*Translator)

func WithDialect(d Dialect) Option {
	return func(t *Translator) { t.dialect = d }
}

// WithFieldTable thay bảng mapping mặc định (bảng được clone).
func WithFieldTable(ft FieldTable) Option {
	return func(t *Translator) { t.fields = ft.Clone() }
}

func WithLogger(l *slog.Logger) Option {
	return func(t *Translator) {
		if l != nil {
			t.log = l
		}
	}
}

func WithTableSelector(s TableSelector) Option {
	return func(t *Translator) { t.tables = s }
}

type Translator struct {
	dialect   Dialect
	fields    FieldTable
	validator *Validator
	renderer  backend.TextRenderer
	tables    TableSelector
	log       *slog.Logger
}

func New(opts ...Option) *Translator {
	t := &Translator{
		dialect: DefaultDialect(),
		fields:  DefaultFieldTable(),
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.validator = NewValidator(t.dialect)
	t.renderer = backend.TextRenderer{Tokens: t.dialect.Tokens, Leaf: leafRenderer{t}}
	return t
}

func (t *Translator) Dialect() Dialect { return t.dialect }

// Fields trả bản sao bảng mapping đang dùng.
func (t *Translator) Fields() FieldTable { return t.fields.Clone() }

// Generate render cây của rule thành một query. Lỗi thì không có chuỗi nào được trả về.
func (t *Translator) Generate(rule sigma.RuleIR) (string, error) {
	log := t.log.With("rule", rule.ID, "dialect", t.dialect.Name)
	log.Debug("translate", "stage", "INIT")

	rc := backend.NewRuleContext(rule.Logsource)
	log.Debug("translate", "stage", "EXTRACT_CONTEXT",
		"category", rc.Category, "product", rc.Product, "service", rc.Service)

	query, err := t.generate(rc, rule.Tree, log)
	if err != nil {
		log.Debug("translate", "stage", "FAILED", "kind", backend.ErrorKind(err), "err", err)
		return "", err
	}
	log.Debug("translate", "stage", "DONE", "query", query)
	return query, nil
}

func (t *Translator) generate(rc backend.RuleContext, tree sigma.Node, log *slog.Logger) (string, error) {
	if tree == nil {
		return "", fmt.Errorf("rule has no detection tree")
	}
	if err := t.fields.Check(tree); err != nil {
		return "", err
	}

	log.Debug("translate", "stage", "RENDER_TREE", "tree", sigma.String(tree))
	query, err := t.renderer.Render(rc, tree)
	if err != nil {
		return "", err
	}

	log.Debug("translate", "stage", "VALIDATE", "raw", query)
	return t.validator.Validate(query)
}

// Translate như Generate, kèm metadata và bảng tìm kiếm (nếu có TableSelector).
func (t *Translator) Translate(rule sigma.RuleIR) (Result, error) {
	q, err := t.Generate(rule)
	if err != nil {
		return Result{}, fmt.Errorf("rule %s: %w", rule.ID, err)
	}
	res := Result{RuleID: rule.ID, Title: rule.Title, Query: q}
	if t.tables != nil {
		if table, ok := t.tables.SelectTable(backend.NewRuleContext(rule.Logsource)); ok {
			res.Table = table
		}
	}
	return res, nil
}

// leafRenderer nối bảng mapping + chuẩn hoá giá trị vào TextRenderer.
type leafRenderer struct {
	t *Translator
}

func (l leafRenderer) RenderLeaf(_ backend.RuleContext, field string, value any) (string, error) {
	spec, ok := l.t.fields.Lookup(field)
	if !ok {
		return "", &backend.UnsupportedFieldError{Field: field}
	}
	d := l.t.dialect
	switch v := value.(type) {
	case sigma.Null:
		return fmt.Sprintf(d.Tokens.NullExpression, spec.Target), nil
	case sigma.NotNull:
		return fmt.Sprintf(d.Tokens.NotNullExpression, spec.Target), nil
	case string:
		return renderValue(d, field, spec, v)
	default:
		return "", &backend.UnsupportedFeatureError{Field: field, Value: fmt.Sprint(v), Reason: fmt.Sprintf("unsupported value type %T", v)}
	}
}

func (l leafRenderer) EscapeValue(v string) string {
	return escapeKeyword(l.t.dialect, v)
}
