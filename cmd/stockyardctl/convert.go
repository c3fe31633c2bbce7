package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// ConvertOptions holds flags for the convert command.
type ConvertOptions struct {
	Force bool
}

// NewConvertCommand creates the convert command.
func NewConvertCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConvertOptions{}

	cmd := &cobra.Command{
		Use:   "convert <src> <dst>",
		Short: "Copy a save into another format",
		Long: `Copy a save file into another storage format.

The destination format follows its extension: .db, .sqlite and .sqlite3
write a SQLite database, .gz writes compressed JSON, anything else plain JSON.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, rootOpts, opts, args[0], args[1])
		},
	}

	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "overwrite an existing destination")
	return cmd
}

func runConvert(cmd *cobra.Command, rootOpts *RootOptions, opts *ConvertOptions, src, dst string) error {
	if filepath.Clean(src) == filepath.Clean(dst) {
		return errors.New("source and destination are the same file")
	}
	if !opts.Force {
		if _, err := os.Stat(dst); err == nil {
			return fmt.Errorf("%s exists, use --force to overwrite", dst)
		}
	}

	log := newLogger(rootOpts, cmd.ErrOrStderr())
	doc, err := loadSave(cmd.Context(), src, log)
	if err != nil {
		return err
	}

	out, err := openSave(dst, log)
	if err != nil {
		return err
	}
	if err := out.Save(cmd.Context(), doc); err != nil {
		_ = out.Close()
		return fmt.Errorf("writing %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return err
	}

	log.Info("Converted save", "src", src, "dst", dst, "equipment", len(doc.Equipment))
	if rootOpts.Format == "json" {
		return writeSummary(cmd.OutOrStdout(), "json", Summarize(doc))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d equipment records to %s\n", len(doc.Equipment), dst)
	return nil
}
