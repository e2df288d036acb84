// Package config loads the service configuration once at startup.
//
// Values come from (highest priority first) environment variables, an
// optional coderunner.yaml, and the defaults below. The returned *Config is
// shared read-only by every engine; nothing re-reads the environment later.
package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Supported language identifiers.
const (
	LanguageJavaScript = "javascript"
	LanguageTypeScript = "typescript"
	LanguagePython     = "python"
	LanguageGo         = "go"
)

// languageAliases lists the extra names each language is reachable under.
var languageAliases = map[string][]string{
	LanguageJavaScript: {"js", "node"},
	LanguageTypeScript: {"ts"},
	LanguagePython:     {"py", "python3"},
	LanguageGo:         {"golang"},
}

// languageCeilings are the maximum execution times used when
// MAX_EXECUTION_TIME is unset.
var languageCeilings = map[string]time.Duration{
	LanguageJavaScript: 5 * time.Second,
	LanguageTypeScript: 20 * time.Second,
	LanguagePython:     5 * time.Second,
	LanguageGo:         5 * time.Second,
}

type ServerConfig struct {
	Port           int    `mapstructure:"port"`
	Language       string `mapstructure:"language"`
	MaxRequestSize int64  `mapstructure:"max_request_size"`
}

type EngineConfig struct {
	// MaxExecutionTime is the timeout ceiling in seconds; 0 selects the
	// language default.
	MaxExecutionTime int `mapstructure:"max_execution_time"`
	// DefaultTimeout applies to languages without a build step when the
	// caller asks for no timeout.
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	MaxOutputBytes int           `mapstructure:"max_output_bytes"`
}

type CompilerConfig struct {
	Command    string        `mapstructure:"command"`
	Timeout    time.Duration `mapstructure:"timeout"`
	ScratchDir string        `mapstructure:"scratch_dir"`
}

type DockerConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Image       string  `mapstructure:"image"`
	MemoryLimit int64   `mapstructure:"memory_limit"`
	CPULimit    float64 `mapstructure:"cpu_limit"`
	PoolSize    int     `mapstructure:"pool_size"`
	// GoImage is the toolchain image for Go; empty disables Go.
	GoImage       string `mapstructure:"go_image"`
	GoMemoryLimit int64  `mapstructure:"go_memory_limit"`
	GoPoolSize    int    `mapstructure:"go_pool_size"`
}

type CacheConfig struct {
	Path string        `mapstructure:"path"`
	TTL  time.Duration `mapstructure:"ttl"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type TracingConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	Insecure    bool   `mapstructure:"insecure"`
	ServiceName string `mapstructure:"service_name"`
}

type SweeperConfig struct {
	Schedule string `mapstructure:"schedule"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Compiler CompilerConfig `mapstructure:"compiler"`
	Docker   DockerConfig   `mapstructure:"docker"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Sweeper  SweeperConfig  `mapstructure:"sweeper"`
	Log      LogConfig      `mapstructure:"log"`
}

// envBindings maps config keys to the flat environment names operators set.
var envBindings = map[string]string{
	"server.port":               "PORT",
	"server.language":           "LANGUAGE",
	"server.max_request_size":   "MAX_REQUEST_SIZE",
	"engine.max_execution_time": "MAX_EXECUTION_TIME",
	"engine.default_timeout":    "DEFAULT_TIMEOUT",
	"engine.max_output_bytes":   "MAX_OUTPUT_BYTES",
	"compiler.command":          "COMPILER_COMMAND",
	"compiler.timeout":          "COMPILE_TIMEOUT",
	"compiler.scratch_dir":      "SCRATCH_DIR",
	"docker.enabled":            "DOCKER_ENABLED",
	"docker.image":              "PYTHON_IMAGE",
	"docker.memory_limit":       "DOCKER_MEMORY_LIMIT",
	"docker.cpu_limit":          "DOCKER_CPU_LIMIT",
	"docker.pool_size":          "DOCKER_POOL_SIZE",
	"docker.go_image":           "GO_IMAGE",
	"docker.go_memory_limit":    "GO_MEMORY_LIMIT",
	"docker.go_pool_size":       "GO_POOL_SIZE",
	"cache.path":                "CACHE_PATH",
	"cache.ttl":                 "CACHE_TTL",
	"auth.jwt_secret":           "JWT_SECRET",
	"tracing.endpoint":          "OTEL_EXPORTER_OTLP_ENDPOINT",
	"tracing.insecure":          "OTEL_EXPORTER_OTLP_INSECURE",
	"tracing.service_name":      "OTEL_SERVICE_NAME",
	"sweeper.schedule":          "SWEEP_SCHEDULE",
	"log.level":                 "LOG_LEVEL",
}

// DefaultCompilerCommand transpiles {source} into {outdir}/script.js.
const DefaultCompilerCommand = "npx tsc {source} --target ES2020 --module commonjs --outDir {outdir}"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.language", LanguageJavaScript)
	v.SetDefault("server.max_request_size", 100*1024)
	v.SetDefault("engine.max_execution_time", 0)
	v.SetDefault("engine.default_timeout", 5*time.Second)
	v.SetDefault("engine.max_output_bytes", 1<<20)
	v.SetDefault("compiler.command", DefaultCompilerCommand)
	v.SetDefault("compiler.timeout", 30*time.Second)
	v.SetDefault("compiler.scratch_dir", filepath.Join(os.TempDir(), "code-runner"))
	v.SetDefault("docker.enabled", false)
	v.SetDefault("docker.image", "python:3.12-alpine")
	v.SetDefault("docker.memory_limit", 128*1024*1024)
	v.SetDefault("docker.cpu_limit", 0.5)
	v.SetDefault("docker.pool_size", 3)
	v.SetDefault("docker.go_image", "golang:1.25-alpine")
	v.SetDefault("docker.go_memory_limit", 512*1024*1024)
	v.SetDefault("docker.go_pool_size", 2)
	v.SetDefault("cache.path", "")
	v.SetDefault("cache.ttl", time.Hour)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.service_name", "code-runner")
	v.SetDefault("sweeper.schedule", "@every 10m")
	v.SetDefault("log.level", "info")
}

// Load reads the configuration. A missing coderunner.yaml is not an error.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("coderunner")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/coderunner")

	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.Server.Language = NormalizeLanguage(cfg.Server.Language)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values no engine could run with.
func (c *Config) Validate() error {
	switch {
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return fmt.Errorf("config: invalid port %d", c.Server.Port)
	case c.Server.MaxRequestSize <= 0:
		return fmt.Errorf("config: max request size must be positive")
	case c.Engine.MaxExecutionTime < 0:
		return fmt.Errorf("config: MAX_EXECUTION_TIME must not be negative")
	case c.Engine.DefaultTimeout <= 0:
		return fmt.Errorf("config: default timeout must be positive")
	case c.Compiler.Timeout <= 0:
		return fmt.Errorf("config: compile timeout must be positive")
	case strings.TrimSpace(c.Compiler.Command) == "":
		return fmt.Errorf("config: compiler command is empty")
	case c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 16:
		return fmt.Errorf("config: JWT_SECRET must be at least 16 characters")
	}
	if _, ok := languageCeilings[c.Server.Language]; !ok {
		return fmt.Errorf("config: unsupported language %q", c.Server.Language)
	}
	return nil
}

// Ceiling returns the maximum execution time for language.
func (c *Config) Ceiling(language string) time.Duration {
	if c.Engine.MaxExecutionTime > 0 {
		return time.Duration(c.Engine.MaxExecutionTime) * time.Second
	}
	if d, ok := languageCeilings[NormalizeLanguage(language)]; ok {
		return d
	}
	return languageCeilings[LanguageJavaScript]
}

// Limits returns the timeout ceiling and the fallback used when a caller
// requests no timeout. TypeScript falls back to its ceiling.
func (c *Config) Limits(language string) (ceiling, fallback time.Duration) {
	ceiling = c.Ceiling(language)
	if NormalizeLanguage(language) == LanguageTypeScript {
		return ceiling, ceiling
	}
	return ceiling, c.Engine.DefaultTimeout
}

// CompilerArgv splits the configured compiler command into argv form.
func (c *Config) CompilerArgv() []string {
	return strings.Fields(c.Compiler.Command)
}

// Languages lists every supported language in sorted order.
func Languages() []string {
	return slices.Sorted(maps.Keys(languageAliases))
}

// Aliases returns the extra names language is registered under.
func Aliases(language string) []string {
	return append([]string(nil), languageAliases[language]...)
}

// NormalizeLanguage maps aliases such as "js" and "ts" to canonical names.
func NormalizeLanguage(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	for language, aliases := range languageAliases {
		if name == language || slices.Contains(aliases, name) {
			return language
		}
	}
	return name
}
