package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, LanguageJavaScript, cfg.Server.Language)
	assert.Equal(t, int64(100*1024), cfg.Server.MaxRequestSize)
	assert.Equal(t, 5*time.Second, cfg.Engine.DefaultTimeout)
	assert.Equal(t, 30*time.Second, cfg.Compiler.Timeout)
	assert.Equal(t, DefaultCompilerCommand, cfg.Compiler.Command)
	assert.False(t, cfg.Docker.Enabled)
	assert.Equal(t, "golang:1.25-alpine", cfg.Docker.GoImage)
	assert.Equal(t, int64(512*1024*1024), cfg.Docker.GoMemoryLimit)
	assert.Empty(t, cfg.Cache.Path)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("LANGUAGE", "ts")
	t.Setenv("MAX_EXECUTION_TIME", "3")
	t.Setenv("COMPILE_TIMEOUT", "45s")
	t.Setenv("DOCKER_ENABLED", "true")
	t.Setenv("CACHE_PATH", "/var/lib/code-runner/cache.db")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, LanguageTypeScript, cfg.Server.Language)
	assert.Equal(t, 3, cfg.Engine.MaxExecutionTime)
	assert.Equal(t, 45*time.Second, cfg.Compiler.Timeout)
	assert.True(t, cfg.Docker.Enabled)
	assert.Equal(t, "/var/lib/code-runner/cache.db", cfg.Cache.Path)
}

func TestLoad_RejectsShortSecret(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("JWT_SECRET", "short")

	_, err := Load()
	assert.Error(t, err)
}

func TestCeiling(t *testing.T) {
	tests := []struct {
		name     string
		maxExec  int
		language string
		want     time.Duration
	}{
		{"javascript default", 0, "javascript", 5 * time.Second},
		{"typescript default", 0, "typescript", 20 * time.Second},
		{"alias resolves", 0, "ts", 20 * time.Second},
		{"python default", 0, "python", 5 * time.Second},
		{"go default", 0, "golang", 5 * time.Second},
		{"explicit ceiling wins", 2, "typescript", 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Engine: EngineConfig{MaxExecutionTime: tt.maxExec}}
			assert.Equal(t, tt.want, cfg.Ceiling(tt.language))
		})
	}
}

func TestLimits(t *testing.T) {
	cfg := &Config{Engine: EngineConfig{DefaultTimeout: 2 * time.Second}}

	ceiling, fallback := cfg.Limits("javascript")
	assert.Equal(t, 5*time.Second, ceiling)
	assert.Equal(t, 2*time.Second, fallback)

	ceiling, fallback = cfg.Limits("typescript")
	assert.Equal(t, 20*time.Second, ceiling)
	assert.Equal(t, 20*time.Second, fallback)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Server:   ServerConfig{Port: 8080, Language: LanguageJavaScript, MaxRequestSize: 1024},
			Engine:   EngineConfig{DefaultTimeout: time.Second},
			Compiler: CompilerConfig{Command: "tsc", Timeout: time.Second},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"zero port", func(c *Config) { c.Server.Port = 0 }, true},
		{"negative ceiling", func(c *Config) { c.Engine.MaxExecutionTime = -1 }, true},
		{"zero compile timeout", func(c *Config) { c.Compiler.Timeout = 0 }, true},
		{"empty compiler", func(c *Config) { c.Compiler.Command = "  " }, true},
		{"unknown language", func(c *Config) { c.Server.Language = "cobol" }, true},
		{"long secret", func(c *Config) { c.Auth.JWTSecret = "0123456789abcdef" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNormalizeLanguage(t *testing.T) {
	assert.Equal(t, LanguageJavaScript, NormalizeLanguage("JS"))
	assert.Equal(t, LanguageTypeScript, NormalizeLanguage(" ts "))
	assert.Equal(t, LanguagePython, NormalizeLanguage("py"))
	assert.Equal(t, "ruby", NormalizeLanguage("Ruby"))
	assert.Equal(t, LanguageGo, NormalizeLanguage("golang"))
}

func TestAliases_RoundTrip(t *testing.T) {
	assert.Equal(t, []string{"go", "javascript", "python", "typescript"}, Languages())
	for _, language := range Languages() {
		assert.Equal(t, language, NormalizeLanguage(language))
		for _, alias := range Aliases(language) {
			assert.Equal(t, language, NormalizeLanguage(alias), alias)
		}
	}
	assert.Equal(t, []string{"js", "node"}, Aliases(LanguageJavaScript))
	assert.Empty(t, Aliases("ruby"))
}

func TestCompilerArgv(t *testing.T) {
	cfg := &Config{Compiler: CompilerConfig{Command: DefaultCompilerCommand}}

	argv := cfg.CompilerArgv()

	assert.Equal(t, "npx", argv[0])
	assert.Contains(t, argv, "{source}")
	assert.Contains(t, argv, "{outdir}")
}
