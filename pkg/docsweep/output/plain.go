package output

import (
	"bytes"
	"fmt"
	"text/tabwriter"
)

// PlainFormatter writes an unstyled, tab-aligned table for scripting.
type PlainFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PlainFormatter) Format(w *bytes.Buffer, r *Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)

	if _, err := fmt.Fprintln(tw, "TYPE\tSIZE\tMODIFIED\tPATH"); err != nil {
		return err
	}
	for _, e := range r.Entries {
		kind, size := "file", e.SizeHuman
		if e.IsDir {
			kind, size = "dir", "-"
		}
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", kind, size, e.ModTime.Format("2006-01-02 15:04"), e.RelPath); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func init() {
	Register("plain", func() Formatter { return &PlainFormatter{} })
}

var _ Formatter = (*PlainFormatter)(nil)
