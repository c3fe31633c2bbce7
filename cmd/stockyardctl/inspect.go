package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/stockyard/extension/internal/logging"
	"github.com/stockyard/extension/internal/persist"
)

// Summary describes a save document.
type Summary struct {
	Version      int            `json:"version"`
	Equipment    int            `json:"equipment"`
	Spawned      int            `json:"spawned"`
	Reservations int            `json:"reservations"`
	CarTypes     map[string]int `json:"carTypes"`
	Tracks       map[string]int `json:"tracks"`
}

// Summarize counts the records in doc.
func Summarize(doc *persist.Document) Summary {
	s := Summary{
		Version:      doc.Version,
		Equipment:    len(doc.Equipment),
		Reservations: len(doc.Reservations),
		CarTypes:     map[string]int{},
		Tracks:       map[string]int{},
	}
	for _, r := range doc.Equipment {
		if r.IsSpawned {
			s.Spawned++
		}
		s.CarTypes[r.CarType]++
		if r.Bogie1Track != "" {
			s.Tracks[r.Bogie1Track]++
		}
	}
	return s
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <save-file>",
		Short: "Summarize a save file",
		Long: `Summarize a JSON, gzip-compressed JSON or SQLite save file.

The file format is detected from its contents.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(rootOpts, cmd.ErrOrStderr())
			doc, err := loadSave(cmd.Context(), args[0], log)
			if err != nil {
				return err
			}
			return writeSummary(cmd.OutOrStdout(), rootOpts.Format, Summarize(doc))
		},
	}
}

func writeSummary(w io.Writer, format string, s Summary) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	fmt.Fprintf(w, "version:      %d\n", s.Version)
	fmt.Fprintf(w, "equipment:    %d (%d spawned)\n", s.Equipment, s.Spawned)
	fmt.Fprintf(w, "reservations: %d\n", s.Reservations)
	writeCounts(w, "car types", s.CarTypes)
	writeCounts(w, "tracks", s.Tracks)
	return nil
}

func writeCounts(w io.Writer, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n", title)
	for _, k := range slices.Sorted(maps.Keys(counts)) {
		name := k
		if name == "" {
			name = "(none)"
		}
		fmt.Fprintf(w, "  %-24s %d\n", name, counts[k])
	}
}

func newLogger(opts *RootOptions, w io.Writer) *slog.Logger {
	level := "warn"
	if opts.Verbose {
		level = "debug"
	}
	m := logging.NewSlogManager()
	m.Setup(w, level, logging.Options{})
	return m.Component("stockyardctl")
}
