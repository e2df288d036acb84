package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sakif/code-runner/internal/config"
	"github.com/sakif/code-runner/internal/executor"
	"github.com/sakif/code-runner/internal/service"
)

var (
	runLanguage string
	runTimeout  float64
	runArgs     []string
	runEnv      []string
)

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Execute one file and print the result as JSON",
	Long: `Execute one file with the same engines the service uses and print the
ExecutionResult JSON. Use "-" to read the program from stdin.

Examples:
  code-runner run hello.js
  code-runner run main.ts --timeout 10 --arg one --arg two
  echo 'print(1)' | DOCKER_ENABLED=true code-runner run - --language python
  DOCKER_ENABLED=true code-runner run main.go`,
	Args: cobra.ExactArgs(1),
	RunE: runFile,
}

func init() {
	runCmd.Flags().StringVarP(&runLanguage, "language", "l", "", "Language (default: from the file extension, then LANGUAGE)")
	runCmd.Flags().Float64VarP(&runTimeout, "timeout", "t", 0, "Timeout in seconds (0 uses the language default)")
	runCmd.Flags().StringArrayVar(&runArgs, "arg", nil, "Argument passed to the program (repeatable)")
	runCmd.Flags().StringArrayVarP(&runEnv, "env", "e", nil, "Environment variable KEY=VALUE (repeatable)")
	rootCmd.AddCommand(runCmd)
}

func runFile(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	// Logs go to stderr so stdout stays valid JSON.
	logger := newLoggerTo(cmd.ErrOrStderr(), cfg.Log.Level)

	code, err := readSource(args[0], cmd.InOrStdin())
	if err != nil {
		return err
	}
	env, err := parseEnv(runEnv)
	if err != nil {
		return err
	}

	req := executor.ExecutionRequest{Code: code, Args: runArgs, Env: env}
	if runTimeout > 0 {
		t := runTimeout
		req.Timeout = &t
	}

	registry, err := buildRegistry(cmd.Context(), cfg, logger, nil, nil)
	if err != nil {
		return err
	}
	defer registry.Close()

	language := languageFor(args[0], runLanguage, cfg.Server.Language)
	res, err := service.NewRunService(registry, nil, 0, nil, logger).Run(cmd.Context(), language, req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if err := res.Err(); err != nil {
		return fmt.Errorf("execution failed: %w", err)
	}
	return nil
}

func readSource(path string, stdin io.Reader) (string, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading source: %w", err)
	}
	return string(b), nil
}

// parseEnv turns KEY=VALUE pairs into a map. The value may contain '='.
func parseEnv(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --env %q, want KEY=VALUE", p)
		}
		env[k] = v
	}
	return env, nil
}

// languageFor picks the explicit flag, then the file extension, then the
// configured default.
func languageFor(path, flag, fallback string) string {
	if flag != "" {
		return flag
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".js", ".mjs", ".cjs":
		return config.LanguageJavaScript
	case ".ts":
		return config.LanguageTypeScript
	case ".py":
		return config.LanguagePython
	case ".go":
		return config.LanguageGo
	}
	return fallback
}
