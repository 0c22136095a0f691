package output

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// PrettyFormatter renders a styled listing for terminals.
type PrettyFormatter struct {
	// now is used for relative modification times.
	now func() time.Time
}

// Format writes the formatted output to the buffer.
func (f *PrettyFormatter) Format(w *bytes.Buffer, r *Result) error {
	w.WriteString(f.header(r))
	w.WriteString("\n")
	w.WriteString(f.table(r))
	w.WriteString(f.footer(r))
	if len(r.Warnings) > 0 {
		w.WriteString("\n")
		w.WriteString(WarningStyle.Bold(true).Render(fmt.Sprintf("Warnings (%d):", len(r.Warnings))))
		w.WriteString("\n")
		for _, warning := range r.Warnings {
			w.WriteString(WarningStyle.Render("  " + warning))
			w.WriteString("\n")
		}
	}
	return nil
}

func (f *PrettyFormatter) header(r *Result) string {
	lines := []string{LabelStyle.Render("Root:") + " " + ValueStyle.Render(r.Source)}

	var info []string
	if r.Query != "" {
		info = append(info, LabelStyle.Render("Query:")+" "+ValueStyle.Render(fmt.Sprintf("%q", r.Query)))
	}
	if r.Stats.Duration > 0 {
		info = append(info, LabelStyle.Render("Scanned:")+" "+ValueStyle.Render(fmt.Sprintf(
			"%s files, %s dirs in %s",
			humanize.Comma(r.Stats.FilesScanned), humanize.Comma(r.Stats.DirsScanned), formatDuration(r.Stats.Duration))))
	}
	if r.DaemonUp {
		info = append(info, SuccessStyle.Render("daemon: up"))
	} else {
		info = append(info, MutedStyle.Render("daemon: off"))
	}
	lines = append(lines, strings.Join(info, "  "))

	return HeaderBox.Render(strings.Join(lines, "\n"))
}

func (f *PrettyFormatter) table(r *Result) string {
	if len(r.Entries) == 0 {
		return MutedStyle.Render("  No entries") + "\n"
	}

	now := time.Now()
	if f.now != nil {
		now = f.now()
	}

	sizeWidth := 8
	for _, e := range r.Entries {
		if len(e.SizeHuman) > sizeWidth {
			sizeWidth = len(e.SizeHuman)
		}
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("  %s  %s  %s\n",
		TableHeaderStyle.Render(padLeft("SIZE", sizeWidth)),
		TableHeaderStyle.Render(padRight("MODIFIED", 14)),
		TableHeaderStyle.Render("PATH")))

	for _, e := range r.Entries {
		size := padLeft("-", sizeWidth)
		path := PathStyle.Render(e.RelPath)
		if e.IsDir {
			path = DirStyle.Render(e.RelPath + "/")
		} else {
			size = padLeft(e.SizeHuman, sizeWidth)
		}
		modified := humanize.RelTime(e.ModTime, now, "ago", "from now")
		sb.WriteString(fmt.Sprintf("  %s  %s  %s\n",
			SizeStyle.Render(size), MutedStyle.Render(padRight(modified, 14)), path))
	}
	return sb.String()
}

func (f *PrettyFormatter) footer(r *Result) string {
	parts := []string{
		LabelStyle.Render("Files:") + " " + ValueStyle.Render(humanize.Comma(int64(r.Files()))),
		LabelStyle.Render("Dirs:") + " " + ValueStyle.Render(humanize.Comma(int64(len(r.Entries)-r.Files()))),
		LabelStyle.Render("Total:") + " " + SizeStyle.Render(humanize.IBytes(uint64(r.TotalSize()))),
		MutedStyle.Render("Use -o plain for unformatted output"),
	}
	return FooterBox.Render(strings.Join(parts, "  "))
}

func padLeft(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat(" ", width-len(s)) + s
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// formatDuration formats a duration in a human-friendly way.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

func init() {
	Register("pretty", func() Formatter { return &PrettyFormatter{} })
}

var _ Formatter = (*PrettyFormatter)(nil)
