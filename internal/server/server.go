package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/PhucNguyen204/cbquery/backend"
	"github.com/PhucNguyen204/cbquery/backend/carbonblack"
	"github.com/PhucNguyen204/cbquery/internal/store"
	"github.com/PhucNguyen204/cbquery/pkg/sigma"
)

// QueryStore là phần của store.Store mà server dùng.
type QueryStore interface {
	Upsert(ctx context.Context, rec store.Record) error
	List(ctx context.Context, dialect string, limit int) ([]store.Record, error)
	Get(ctx context.Context, ruleUID, dialect string) (store.Record, error)
}

const maxRuleBytes = 1 << 20

type AppServer struct {
	translators map[string]*carbonblack.Translator
	dialect     string
	store       QueryStore // nil: không lưu kết quả
	log         *slog.Logger
}

// NewAppServer nhận một translator cho mỗi dialect phục vụ; defaultDialect phải có trong map.
func NewAppServer(translators map[string]*carbonblack.Translator, defaultDialect string, st QueryStore, log *slog.Logger) (*AppServer, error) {
	if _, ok := translators[defaultDialect]; !ok {
		return nil, fmt.Errorf("no translator for default dialect %q", defaultDialect)
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &AppServer{translators: translators, dialect: defaultDialect, store: st, log: log}, nil
}

// RegisterRoutes wires HTTP handlers.
func (s *AppServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/v1/dialects", s.handleDialects)
	mux.HandleFunc("/api/v1/fields", s.handleFields)
	mux.HandleFunc("/api/v1/translate", s.handleTranslate)
	mux.HandleFunc("/api/v1/queries", s.handleQueries)
	mux.HandleFunc("/api/v1/queries/", s.handleQuery)
}

func (s *AppServer) Router() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

func (s *AppServer) translator(name string) (*carbonblack.Translator, error) {
	if name == "" {
		name = s.dialect
	}
	tr, ok := s.translators[name]
	if !ok {
		return nil, fmt.Errorf("unknown dialect %q", name)
	}
	return tr, nil
}

// ---- Handlers ----

func (s *AppServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

type dialectInfo struct {
	Name                 string   `json:"name"`
	Default              bool     `json:"default"`
	NotToken             string   `json:"not_token"`
	Escape               string   `json:"escape"`
	StripCmdlineWildcard bool     `json:"strip_cmdline_wildcard"`
	RepairDoubleNegation bool     `json:"repair_double_negation"`
	Forbidden            []string `json:"forbidden"`
}

func (s *AppServer) handleDialects(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	names := make([]string, 0, len(s.translators))
	for n := range s.translators {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]dialectInfo, 0, len(names))
	for _, n := range names {
		d := s.translators[n].Dialect()
		info := dialectInfo{
			Name:                 n,
			Default:              n == s.dialect,
			NotToken:             d.Tokens.Not,
			StripCmdlineWildcard: d.StripCmdlineWildcard,
			RepairDoubleNegation: d.RepairDoubleNegation,
			Forbidden:            d.Forbidden,
		}
		if d.Escape != nil {
			info.Escape = d.Escape.String()
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, out)
}

type fieldInfo struct {
	Field    string `json:"field"`
	Target   string `json:"target"`
	Kind     string `json:"kind"`
	FullPath bool   `json:"full_path,omitempty"`
}

func (s *AppServer) handleFields(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	tr, err := s.translator(r.URL.Query().Get("dialect"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	ft := tr.Fields()
	out := make([]fieldInfo, 0)
	for _, name := range ft.Names() {
		spec, _ := ft.Lookup(name)
		out = append(out, fieldInfo{Field: name, Target: spec.Target, Kind: spec.Kind.String(), FullPath: spec.FullPath})
	}
	writeJSON(w, http.StatusOK, out)
}

type translateRequest struct {
	Rule    string `json:"rule"`
	Dialect string `json:"dialect"`
}

type translateResult struct {
	RuleID string       `json:"rule_id"`
	Title  string       `json:"title,omitempty"`
	Query  string       `json:"query,omitempty"`
	Table  string       `json:"table,omitempty"`
	Kind   backend.Kind `json:"kind,omitempty"`
	Error  string       `json:"error,omitempty"`
}

type translateResponse struct {
	Dialect string            `json:"dialect"`
	Results []translateResult `json:"results"`
}

// handleTranslate: POST {rule: "<yaml>", dialect: "edr"}.
// 200 khi mọi rule dịch được, 422 khi có rule lỗi (mỗi kết quả mang kind + error).
func (s *AppServer) handleTranslate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req translateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRuleBytes)).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	if req.Rule == "" {
		writeErr(w, http.StatusBadRequest, errors.New("rule is required"))
		return
	}
	tr, err := s.translator(req.Dialect)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	dialect := tr.Dialect().Name

	rules, err := sigma.LoadRuleYAML([]byte(req.Rule))
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error(), "kind": backend.ErrorKind(err)})
		return
	}

	resp := translateResponse{Dialect: dialect, Results: make([]translateResult, 0, len(rules))}
	status := http.StatusOK
	for _, rule := range rules {
		out := translateResult{RuleID: rule.ID, Title: rule.Title}
		rec := store.Record{RuleUID: rule.ID, Dialect: dialect, Title: rule.Title, Status: store.StatusOK}

		res, err := tr.Translate(rule)
		if err != nil {
			status = http.StatusUnprocessableEntity
			out.Kind, out.Error = backend.ErrorKind(err), err.Error()
			rec.Status, rec.Error = store.StatusFailed, err.Error()
			s.log.Info("translate failed", "rule", rule.ID, "dialect", dialect, "kind", out.Kind, "err", err)
		} else {
			out.Query, out.Table = res.Query, res.Table
			rec.Query, rec.Table = res.Query, res.Table
		}

		if s.store != nil {
			if err := s.store.Upsert(r.Context(), rec); err != nil {
				writeErr(w, http.StatusInternalServerError, err)
				return
			}
		}
		resp.Results = append(resp.Results, out)
	}
	writeJSON(w, status, resp)
}

func (s *AppServer) handleQueries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		writeErr(w, http.StatusServiceUnavailable, errors.New("persistence is not configured"))
		return
	}
	q := r.URL.Query()
	limit := 200
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	recs, err := s.store.List(r.Context(), q.Get("dialect"), limit)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// handleQuery: GET /api/v1/queries/{rule_uid}?dialect=edr (dialect rỗng = dialect mặc định).
func (s *AppServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		writeErr(w, http.StatusServiceUnavailable, errors.New("persistence is not configured"))
		return
	}
	uid := strings.TrimPrefix(r.URL.Path, "/api/v1/queries/")
	if uid == "" || strings.Contains(uid, "/") {
		writeErr(w, http.StatusNotFound, errors.New("rule uid is required"))
		return
	}
	tr, err := s.translator(r.URL.Query().Get("dialect"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	rec, err := s.store.Get(r.Context(), uid, tr.Dialect().Name)
	if errors.Is(err, store.ErrNotFound) {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ---- Helpers ----

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("writeJSON", "err", err)
	}
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{"error": err.Error()})
}
