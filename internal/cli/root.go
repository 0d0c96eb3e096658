// Package cli implements the cbquery command tree.
package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/PhucNguyen204/cbquery/backend/carbonblack"
	"github.com/PhucNguyen204/cbquery/internal/config"
)

// RootOptions holds global flags and the state PersistentPreRunE builds from them.
type RootOptions struct {
	ConfigPath string
	Dialect    string
	LogLevel   string

	Config config.Config
	Logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "cbquery",
		Short: "Translate Sigma rules into Carbon Black queries",
		Long: `cbquery converts Sigma detection rules into Carbon Black search queries
(response, edr and cloud dialects), either as a batch CLI or as an HTTP service.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (YAML)")
	cmd.PersistentFlags().StringVarP(&opts.Dialect, "dialect", "d", "", "query dialect (response|edr|cloud)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")

	cmd.AddCommand(NewConvertCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewFieldsCommand(opts))
	cmd.AddCommand(NewDialectsCommand(opts))

	return cmd
}

// setup nạp config rồi để flag ghi đè; logger ghi ra stderr.
func (o *RootOptions) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return err
	}
	if o.Dialect != "" {
		cfg.Dialect = o.Dialect
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	lvl, _ := config.ParseLevel(cfg.LogLevel)

	o.Config = cfg
	o.Logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: lvl}))
	return nil
}

// translator dựng Translator cho dialect name ("" = dialect trong config).
func (o *RootOptions) translator(name string) (*carbonblack.Translator, error) {
	if name == "" {
		name = o.Config.Dialect
	}
	d, err := carbonblack.DialectByName(name)
	if err != nil {
		return nil, err
	}
	ft, err := o.Config.FieldTable()
	if err != nil {
		return nil, err
	}
	tropts := []carbonblack.Option{
		carbonblack.WithDialect(d),
		carbonblack.WithFieldTable(ft),
		carbonblack.WithLogger(o.Logger.With("dialect", d.Name)),
	}
	if sel := o.Config.TableSelector(); sel != nil {
		tropts = append(tropts, carbonblack.WithTableSelector(sel))
	}
	return carbonblack.New(tropts...), nil
}

func checkFormat(format string) error {
	if !slices.Contains(ValidFormats, format) {
		return fmt.Errorf("invalid format %q: must be one of %v", format, ValidFormats)
	}
	return nil
}
