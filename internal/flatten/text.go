package flatten

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// WriteText renders table as aligned plain text: the caption, one line per
// row indented by level, then any skipped branches.
func WriteText(w io.Writer, table *Table) error {
	if table.Summary.Caption != "" {
		if _, err := fmt.Fprintf(w, "%s\n\n", table.Summary.Caption); err != nil {
			return err
		}
	}

	tw := tabwriter.NewWriter(w, 8, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tREQUIRED\tDESCRIPTION")
	for _, row := range table.Rows {
		name := strings.Repeat("  ", row.Indent+1) + row.Name
		if row.Constraint != ConstraintNone {
			name += fmt.Sprintf(" (%s %d/%d)", row.Constraint, row.ConstraintIndex+1, row.ConstraintCount)
		}
		if row.Ref != "" {
			name += " -> " + row.Ref
		}
		required := "optional"
		if row.Required {
			required = "required"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", name, row.Type, required, oneLine(row.Description))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, is := range table.Issues {
		if _, err := fmt.Fprintf(w, "skipped %s: %s\n", is.Path, is.Message); err != nil {
			return err
		}
	}
	return nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
