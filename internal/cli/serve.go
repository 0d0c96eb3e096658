package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/PhucNguyen204/cbquery/backend/carbonblack"
	"github.com/PhucNguyen204/cbquery/internal/convert"
	"github.com/PhucNguyen204/cbquery/internal/rules"
	"github.com/PhucNguyen204/cbquery/internal/server"
	"github.com/PhucNguyen204/cbquery/internal/store"
)

type ServeOptions struct {
	*RootOptions
	Addr string
}

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the translation HTTP API",
		Long: `Serve the HTTP API (translate, fields, dialects, stored queries).

When database.dsn is set the schema is migrated and every translation is stored.
When rules_path is also set, those rules are converted for all dialects at startup.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides config addr)")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions) error {
	log := opts.Logger
	cfg := opts.Config

	translators := map[string]*carbonblack.Translator{}
	for _, d := range carbonblack.Dialects() {
		tr, err := opts.translator(d.Name)
		if err != nil {
			return err
		}
		translators[d.Name] = tr
	}

	var qs server.QueryStore
	if cfg.Database.DSN != "" {
		st, err := store.Open(ctx, cfg.Database.DSN, cfg.Database.MaxOpenConns)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return err
		}
		qs = st
		if cfg.RulesPath != "" {
			if err := preload(ctx, opts.RootOptions, translators, st); err != nil {
				log.Warn("preload rules failed", "path", cfg.RulesPath, "err", err)
			}
		}
	} else {
		log.Info("database.dsn not set; translations are not stored")
	}

	def, err := carbonblack.DialectByName(cfg.Dialect)
	if err != nil {
		return err
	}
	app, err := server.NewAppServer(translators, def.Name, qs, log)
	if err != nil {
		return err
	}

	addr := cfg.Addr
	if opts.Addr != "" {
		addr = opts.Addr
	}
	srv := &http.Server{Addr: addr, Handler: app.Router(), ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() {
		log.Info("cbquery server listening", "addr", addr, "default_dialect", cfg.Dialect)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// preload dịch toàn bộ rules_path cho mọi dialect và lưu vào store.
func preload(ctx context.Context, opts *RootOptions, translators map[string]*carbonblack.Translator, rec convert.Recorder) error {
	entries, err := rules.Walk(opts.Config.RulesPath)
	if err != nil {
		return err
	}
	for name, tr := range translators {
		rep, err := convert.New(tr, convert.WithWorkers(opts.Config.Workers), convert.WithRecorder(rec), convert.WithLogger(opts.Logger)).Run(ctx, entries)
		if err != nil {
			return err
		}
		opts.Logger.Info("rules preloaded", "dialect", name, "converted", rep.Converted, "failed", rep.Failed)
	}
	return nil
}
