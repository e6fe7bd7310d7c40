package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type outputFormat string

const (
	formatTable outputFormat = "table"
	formatJSON  outputFormat = "json"
	formatYAML  outputFormat = "yaml"
)

func addOutputFlag(cmd *cobra.Command, dst *string) {
	cmd.Flags().StringVarP(dst, "output", "o", string(formatTable), "output format (table, json, yaml)")
}

func parseFormat(cmd *cobra.Command, value string) (outputFormat, error) {
	switch f := outputFormat(strings.ToLower(value)); f {
	case formatTable, formatJSON, formatYAML:
		return f, nil
	default:
		return "", usageError(cmd, fmt.Errorf("unknown output format %q", value))
	}
}

// table is a tab-aligned text table.
type table struct {
	w *tabwriter.Writer
}

func (t *table) header(cols ...string) {
	t.row(cols...)
}

func (t *table) row(cols ...string) {
	fmt.Fprintln(t.w, strings.Join(cols, "\t"))
}

// render writes v as JSON or YAML, or calls fill to build a table.
func render(w io.Writer, format outputFormat, v any, fill func(*table)) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		t := &table{w: tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)}
		fill(t)
		return t.w.Flush()
	}
}
