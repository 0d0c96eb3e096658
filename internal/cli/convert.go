package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/PhucNguyen204/cbquery/internal/convert"
	"github.com/PhucNguyen204/cbquery/internal/rules"
	"github.com/PhucNguyen204/cbquery/internal/store"
)

// ConvertOptions holds flags for the convert command.
type ConvertOptions struct {
	*RootOptions
	Output  string
	Format  string
	Persist bool
}

func NewConvertCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConvertOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "convert <file|dir>",
		Short: "Convert Sigma rules to Carbon Black queries",
		Long: `Convert one Sigma rule file or a directory of rules (recursively).

Rules that cannot be expressed in the selected dialect are reported on stderr
and skipped; the command fails only when no rule converts.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path (default stdout)")
	cmd.Flags().StringVarP(&opts.Format, "format", "f", "text", "output format (text|json)")
	cmd.Flags().BoolVar(&opts.Persist, "persist", false, "save results to the configured database")

	return cmd
}

func runConvert(cmd *cobra.Command, opts *ConvertOptions, path string) error {
	if err := checkFormat(opts.Format); err != nil {
		return err
	}
	ctx := cmd.Context()

	entries, err := rules.Walk(path)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("no Sigma rules found in %s", path)
	}

	tr, err := opts.translator("")
	if err != nil {
		return err
	}
	copts := []convert.Option{convert.WithWorkers(opts.Config.Workers), convert.WithLogger(opts.Logger)}
	if opts.Persist {
		if opts.Config.Database.DSN == "" {
			return errors.New("--persist needs database.dsn (or CBQUERY_DATABASE_DSN)")
		}
		st, err := store.Open(ctx, opts.Config.Database.DSN, opts.Config.Database.MaxOpenConns)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return err
		}
		copts = append(copts, convert.WithRecorder(st))
	}

	rep, err := convert.New(tr, copts...).Run(ctx, entries)
	if err != nil {
		return err
	}

	if err := emitReport(cmd.OutOrStdout(), opts.Output, opts.Format, rep); err != nil {
		return err
	}

	errOut := cmd.ErrOrStderr()
	for _, o := range rep.Outcomes {
		if o.Err != nil {
			fmt.Fprintf(errOut, "skipped %s (%s): [%s] %s\n", o.Path, o.RuleID, o.Kind, o.Error)
		}
	}
	fmt.Fprintf(errOut, "%s: converted %d, failed %d\n", rep.Dialect, rep.Converted, rep.Failed)

	if rep.Converted == 0 {
		return fmt.Errorf("none of %d rules could be converted", len(rep.Outcomes))
	}
	return nil
}

// emitReport ghi báo cáo ra stdout hoặc file path; lỗi đóng file cũng được trả về.
func emitReport(stdout io.Writer, path, format string, rep convert.Report) error {
	if path == "" {
		return writeReport(stdout, format, rep)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := writeReport(f, format, rep); err != nil {
		_ = f.Close()
		return fmt.Errorf("write output: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	return nil
}

func writeReport(w io.Writer, format string, rep convert.Report) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	for _, o := range rep.Outcomes {
		if o.Err != nil {
			continue
		}
		if _, err := fmt.Fprintf(w, "# %s (%s)\n", o.Title, o.RuleID); err != nil {
			return err
		}
		if o.Table != "" {
			if _, err := fmt.Fprintf(w, "# table: %s\n", o.Table); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "%s\n\n", o.Query); err != nil {
			return err
		}
	}
	return nil
}
