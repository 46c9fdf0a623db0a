package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pressgate/pressgate/internal/output"
)

// outputSink is where a command report lands: stdout by default, a file
// when --out or --out-dir is given.
type outputSink struct {
	writer io.Writer
	close  func() error
	path   string
}

var extensionByFormat = map[output.Format]string{
	output.FormatJSON:     "json",
	output.FormatMarkdown: "md",
}

func outputExtension(format output.Format) string {
	if ext, ok := extensionByFormat[format]; ok {
		return ext
	}
	return "txt"
}

func resolveOutputFormat(cmd *cobra.Command) (output.Format, error) {
	value, err := cmd.Flags().GetString("output-format")
	if err != nil {
		return "", err
	}
	return output.ParseFormat(value)
}

func resolveOutputTargets(cmd *cobra.Command) (outPath string, outDir string, err error) {
	for flag, dst := range map[string]*string{"out": &outPath, "out-dir": &outDir} {
		value, err := cmd.Flags().GetString(flag)
		if err != nil {
			return "", "", err
		}
		*dst = strings.TrimSpace(value)
	}
	if outPath != "" && outDir != "" {
		return "", "", fmt.Errorf("--out and --out-dir are mutually exclusive")
	}
	return outPath, outDir, nil
}

func openSink(path string) (*outputSink, error) {
	path = strings.TrimSpace(path)
	if path == "" || path == "-" {
		return &outputSink{writer: os.Stdout, close: func() error { return nil }, path: "-"}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &outputSink{writer: file, close: file.Close, path: path}, nil
}

func ensureOutDir(dir string) (string, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return "", nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	if abs, err := filepath.Abs(dir); err == nil {
		return abs, nil
	}
	return dir, nil
}
