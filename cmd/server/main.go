// Package main is the entry point of the code runner.
//
// The binary carries several commands: `serve` runs the HTTP service, `run`
// executes a single file locally, `token` mints bearer tokens and `version`
// prints build information. Configuration is read once per command by
// config.Load; a .env file in the working directory is loaded first.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "code-runner",
	Short: "Run untrusted code snippets in isolated sandboxes",
	Long: `code-runner executes JavaScript, TypeScript and (with docker) Python
snippets under strict timeouts and returns their output as JSON.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger builds the process logger on stdout.
func newLogger(level string) *slog.Logger {
	return newLoggerTo(os.Stdout, level)
}

// newLoggerTo builds a text logger on w. An unknown level falls back to info.
func newLoggerTo(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
