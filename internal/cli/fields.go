package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/PhucNguyen204/cbquery/backend/carbonblack"
)

type listOptions struct {
	*RootOptions
	Format string
}

type fieldRow struct {
	Field    string `json:"field"`
	Target   string `json:"target"`
	Kind     string `json:"kind"`
	FullPath bool   `json:"full_path,omitempty"`
}

// NewFieldsCommand in bảng mapping field đang dùng (mặc định + override trong config).
func NewFieldsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &listOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fields",
		Short: "List the Sigma → Carbon Black field mappings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(opts.Format); err != nil {
				return err
			}
			ft, err := opts.Config.FieldTable()
			if err != nil {
				return err
			}
			return writeFields(cmd.OutOrStdout(), opts.Format, ft)
		},
	}
	cmd.Flags().StringVarP(&opts.Format, "format", "f", "text", "output format (text|json)")
	return cmd
}

func writeFields(w io.Writer, format string, ft carbonblack.FieldTable) error {
	rows := make([]fieldRow, 0)
	for _, name := range ft.Names() {
		spec, _ := ft.Lookup(name)
		rows = append(rows, fieldRow{Field: name, Target: spec.Target, Kind: spec.Kind.String(), FullPath: spec.FullPath})
	}
	if format == "json" {
		return json.NewEncoder(w).Encode(rows)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FIELD\tTARGET\tKIND\tFULL PATH")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", r.Field, r.Target, r.Kind, r.FullPath)
	}
	return tw.Flush()
}

type dialectRow struct {
	Name                 string   `json:"name"`
	Default              bool     `json:"default"`
	Not                  string   `json:"not_token"`
	Null                 string   `json:"null_expression"`
	StripCmdlineWildcard bool     `json:"strip_cmdline_wildcard"`
	RepairDoubleNegation bool     `json:"repair_double_negation"`
	Forbidden            []string `json:"forbidden"`
}

func NewDialectsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &listOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dialects",
		Short: "List the supported Carbon Black query dialects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(opts.Format); err != nil {
				return err
			}
			return writeDialects(cmd.OutOrStdout(), opts.Format, opts.Config.Dialect)
		},
	}
	cmd.Flags().StringVarP(&opts.Format, "format", "f", "text", "output format (text|json)")
	return cmd
}

func writeDialects(w io.Writer, format, current string) error {
	var rows []dialectRow
	for _, d := range carbonblack.Dialects() {
		rows = append(rows, dialectRow{
			Name:                 d.Name,
			Default:              d.Name == current,
			Not:                  d.Tokens.Not,
			Null:                 d.Tokens.NullExpression,
			StripCmdlineWildcard: d.StripCmdlineWildcard,
			RepairDoubleNegation: d.RepairDoubleNegation,
			Forbidden:            d.Forbidden,
		})
	}
	if format == "json" {
		return json.NewEncoder(w).Encode(rows)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tNOT\tNULL\tSTRIP CMDLINE *\tREPAIR --\tFORBIDDEN")
	for _, r := range rows {
		name := r.Name
		if r.Default {
			name += " *"
		}
		fmt.Fprintf(tw, "%s\t%q\t%s\t%t\t%t\t%v\n", name, r.Not, r.Null, r.StripCmdlineWildcard, r.RepairDoubleNegation, r.Forbidden)
	}
	return tw.Flush()
}
