// Package convert translates batches of rules concurrently and aggregates the outcome.
package convert

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/PhucNguyen204/cbquery/backend"
	"github.com/PhucNguyen204/cbquery/backend/carbonblack"
	"github.com/PhucNguyen204/cbquery/internal/rules"
	"github.com/PhucNguyen204/cbquery/internal/store"
)

// Recorder lưu kết quả dịch (store.Store thoả interface này).
type Recorder interface {
	Upsert(ctx context.Context, rec store.Record) error
}

// Outcome là kết quả của một rule; Err != nil thì Query rỗng.
type Outcome struct {
	Path   string       `json:"path,omitempty"`
	RuleID string       `json:"rule_id,omitempty"`
	Title  string       `json:"title,omitempty"`
	Query  string       `json:"query,omitempty"`
	Table  string       `json:"table,omitempty"`
	Kind   backend.Kind `json:"kind,omitempty"`
	Error  string       `json:"error,omitempty"`
	Err    error        `json:"-"`
}

type Report struct {
	Dialect   string               `json:"dialect"`
	Outcomes  []Outcome            `json:"outcomes"`
	Converted int                  `json:"converted"`
	Failed    int                  `json:"failed"`
	ByKind    map[backend.Kind]int `json:"by_kind"`
	Elapsed   time.Duration        `json:"elapsed_ns"`
}

type Option func(*Converter)

// WithWorkers đặt số goroutine dịch song song (<= 0: GOMAXPROCS).
func WithWorkers(n int) Option {
	return func(c *Converter) { c.workers = n }
}

func WithRecorder(r Recorder) Option {
	return func(c *Converter) { c.recorder = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Converter) {
		if l != nil {
			c.log = l
		}
	}
}

type Converter struct {
	tr       *carbonblack.Translator
	workers  int
	recorder Recorder
	log      *slog.Logger
}

func New(tr *carbonblack.Translator, opts ...Option) *Converter {
	c := &Converter{tr: tr, log: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(c)
	}
	if c.workers <= 0 {
		c.workers = runtime.GOMAXPROCS(0)
	}
	return c
}

// Run dịch mọi entry; thứ tự Outcomes giữ nguyên thứ tự entries.
// Lỗi dịch chỉ nằm trong Outcome; Run chỉ trả error khi ctx bị huỷ hoặc lưu DB lỗi.
func (c *Converter) Run(ctx context.Context, entries []rules.Entry) (Report, error) {
	start := time.Now()
	outcomes := make([]Outcome, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, e := range entries {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = c.convertOne(e)
			if c.recorder != nil && outcomes[i].RuleID != "" {
				if err := c.recorder.Upsert(gctx, c.record(outcomes[i])); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, fmt.Errorf("convert: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Report{}, fmt.Errorf("convert: %w", err)
	}

	rep := Report{
		Dialect:  c.tr.Dialect().Name,
		Outcomes: outcomes,
		ByKind:   map[backend.Kind]int{},
		Elapsed:  time.Since(start),
	}
	for _, o := range outcomes {
		if o.Err != nil {
			rep.Failed++
			rep.ByKind[o.Kind]++
		} else {
			rep.Converted++
		}
	}
	c.log.Info("batch converted", "dialect", rep.Dialect, "rules", len(outcomes),
		"converted", rep.Converted, "failed", rep.Failed, "elapsed", rep.Elapsed)
	return rep, nil
}

func (c *Converter) convertOne(e rules.Entry) Outcome {
	o := Outcome{Path: e.Path, RuleID: e.Rule.ID, Title: e.Rule.Title}
	if e.Err != nil {
		return c.fail(o, e.Err)
	}
	res, err := c.tr.Translate(e.Rule)
	if err != nil {
		return c.fail(o, err)
	}
	o.Query, o.Table = res.Query, res.Table
	return o
}

func (c *Converter) fail(o Outcome, err error) Outcome {
	o.Err = err
	o.Error = err.Error()
	o.Kind = backend.ErrorKind(err)
	c.log.Warn("rule skipped", "path", o.Path, "rule", o.RuleID, "kind", o.Kind, "err", err)
	return o
}

func (c *Converter) record(o Outcome) store.Record {
	rec := store.Record{
		RuleUID: o.RuleID,
		Dialect: c.tr.Dialect().Name,
		Title:   o.Title,
		Query:   o.Query,
		Table:   o.Table,
		Status:  store.StatusOK,
	}
	if o.Err != nil {
		rec.Status = store.StatusFailed
		rec.Error = o.Error
	}
	return rec
}
