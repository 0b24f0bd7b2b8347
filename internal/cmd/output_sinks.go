package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/reelforge/reelforge/internal/output"
)

const (
	flagOutputFormat = "output-format"
	flagOut          = "out"
	flagOutDir       = "out-dir"
	stdoutTarget     = "-"
)

var unsafeNameChars = regexp.MustCompile(`[^a-z0-9._-]+`)

// artifactName turns a result label such as "generate.media.Task 7" into a
// lowercase file stem.
func artifactName(label string) string {
	stem := unsafeNameChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(label)), "-")
	if stem = strings.Trim(stem, "-."); stem == "" {
		return "output"
	}
	return stem
}

func addOutputFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String(flagOutputFormat, string(output.FormatTable), "Output format: table|json|yaml")
	flags.String(flagOut, "", "Write output to a file (default stdout)")
	flags.String(flagOutDir, "", "Write output to a directory, one file per result")
}

func resolveOutputFormat(cmd *cobra.Command) (output.Format, error) {
	value, err := cmd.Flags().GetString(flagOutputFormat)
	if err != nil {
		return "", err
	}
	return output.ParseFormat(value)
}

// outputTarget returns the file a result should be written to, or "-" for
// stdout. --out and --out-dir cannot be combined.
func outputTarget(cmd *cobra.Command, format output.Format, label string) (string, error) {
	file, _ := cmd.Flags().GetString(flagOut)
	dir, _ := cmd.Flags().GetString(flagOutDir)
	file, dir = strings.TrimSpace(file), strings.TrimSpace(dir)

	switch {
	case file != "" && dir != "":
		return "", fmt.Errorf("--%s and --%s are mutually exclusive", flagOut, flagOutDir)
	case dir != "":
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
		return filepath.Join(dir, artifactName(label)+"."+format.Extension()), nil
	case file != "":
		return file, nil
	default:
		return stdoutTarget, nil
	}
}

// writeOutput prints rendered to the target chosen by the output flags,
// creating parent directories as needed.
func writeOutput(cmd *cobra.Command, format output.Format, label, rendered string) error {
	target, err := outputTarget(cmd, format, label)
	if err != nil {
		return err
	}
	if target == stdoutTarget {
		return emit(cmd.OutOrStdout(), rendered)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	file, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("open output %s: %w", target, err)
	}
	if err := emit(file, rendered); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func emit(w io.Writer, rendered string) error {
	_, err := fmt.Fprintln(w, rendered)
	return err
}
