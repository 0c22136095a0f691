package output

import (
	"bytes"
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// document is the structured form shared by the json and yaml formatters.
type document struct {
	Entries []Entry  `json:"entries" yaml:"entries"`
	Stats   docStats `json:"stats" yaml:"stats"`
	Meta    docMeta  `json:"meta" yaml:"meta"`
}

type docStats struct {
	DirsScanned  int64  `json:"dirs_scanned" yaml:"dirs_scanned"`
	FilesScanned int64  `json:"files_scanned" yaml:"files_scanned"`
	Duration     string `json:"duration,omitempty" yaml:"duration,omitempty"`
}

type docMeta struct {
	Source     string   `json:"source" yaml:"source"`
	Query      string   `json:"query,omitempty" yaml:"query,omitempty"`
	DaemonUp   bool     `json:"daemon_up" yaml:"daemon_up"`
	TotalFiles int      `json:"total_files" yaml:"total_files"`
	TotalSize  int64    `json:"total_size" yaml:"total_size"`
	Warnings   []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

func newDocument(r *Result) document {
	entries := r.Entries
	if entries == nil {
		entries = []Entry{}
	}

	doc := document{
		Entries: entries,
		Stats: docStats{
			DirsScanned:  r.Stats.DirsScanned,
			FilesScanned: r.Stats.FilesScanned,
		},
		Meta: docMeta{
			Source:     r.Source,
			Query:      r.Query,
			DaemonUp:   r.DaemonUp,
			TotalFiles: r.Files(),
			TotalSize:  r.TotalSize(),
			Warnings:   r.Warnings,
		},
	}
	if r.Stats.Duration > 0 {
		doc.Stats.Duration = r.Stats.Duration.String()
	}
	return doc
}

// JSONFormatter writes one indented JSON document.
type JSONFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *JSONFormatter) Format(w *bytes.Buffer, r *Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(newDocument(r))
}

// JSONLFormatter writes one compact JSON object per entry, for jq pipelines.
type JSONLFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *JSONLFormatter) Format(w *bytes.Buffer, r *Result) error {
	enc := json.NewEncoder(w)
	for _, e := range r.Entries {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

// YAMLFormatter writes the same document as JSONFormatter in YAML.
type YAMLFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *YAMLFormatter) Format(w *bytes.Buffer, r *Result) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(newDocument(r)); err != nil {
		return err
	}
	return enc.Close()
}

func init() {
	Register("json", func() Formatter { return &JSONFormatter{} })
	Register("jsonl", func() Formatter { return &JSONLFormatter{} })
	Register("yaml", func() Formatter { return &YAMLFormatter{} })
}

var (
	_ Formatter = (*JSONFormatter)(nil)
	_ Formatter = (*JSONLFormatter)(nil)
	_ Formatter = (*YAMLFormatter)(nil)
)
