package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		configPathEnv, databaseDSNEnv, eventRegistryKeyEnv, geminiKeyEnv,
		githubTokenEnv, githubOwnerEnv, githubRepoEnv, twitterBearerEnv,
	} {
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearConfigEnv(t)

	cfg := Load()

	if cfg.Logging.LevelOrDefault() != "info" {
		t.Errorf("logging level = %q", cfg.Logging.LevelOrDefault())
	}
	if cfg.Pipeline.MaxItemsPerRun != 10 {
		t.Errorf("maxItemsPerRun = %d", cfg.Pipeline.MaxItemsPerRun)
	}
	if cfg.Pipeline.CallTimeout != 30*time.Second {
		t.Errorf("callTimeout = %v", cfg.Pipeline.CallTimeout)
	}
	if cfg.Pipeline.PrimaryTarget != "github" {
		t.Errorf("primaryTarget = %q", cfg.Pipeline.PrimaryTarget)
	}
	if len(cfg.Sources) != 1 || cfg.Sources[0].Scanner != "eventregistry" {
		t.Errorf("default sources = %+v", cfg.Sources)
	}
	if cfg.Database.DSN != "" {
		t.Errorf("default dsn should be empty, got %q", cfg.Database.DSN)
	}
}

func TestLoadMergesYAMLOverDefaults(t *testing.T) {
	clearConfigEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
logging:
  level: debug
pipeline:
  maxItemsPerRun: 25
  draft: true
gemini:
  model: gemini-2.0-flash
sources:
  - name: miningnews
    scanner: newsroom
    options:
      url: https://mining.example/news
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(configPathEnv, path)

	cfg := Load()

	if cfg.Logging.Level != "debug" {
		t.Errorf("logging level = %q", cfg.Logging.Level)
	}
	if cfg.Pipeline.MaxItemsPerRun != 25 {
		t.Errorf("maxItemsPerRun = %d", cfg.Pipeline.MaxItemsPerRun)
	}
	if !cfg.Pipeline.Draft {
		t.Errorf("draft should be enabled")
	}
	if cfg.Pipeline.DaysBack != 1 {
		t.Errorf("unset fields keep defaults, daysBack = %d", cfg.Pipeline.DaysBack)
	}
	if cfg.Gemini.Model != "gemini-2.0-flash" {
		t.Errorf("gemini model = %q", cfg.Gemini.Model)
	}
	if cfg.Gemini.Endpoint == "" {
		t.Errorf("gemini endpoint default lost")
	}
	if len(cfg.Sources) != 1 || cfg.Sources[0].Name != "miningnews" {
		t.Errorf("sources = %+v", cfg.Sources)
	}
}

func TestLoadBadYAMLFallsBackToDefaults(t *testing.T) {
	clearConfigEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(":\tnot yaml"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(configPathEnv, path)

	cfg := Load()
	if cfg.Pipeline.MaxItemsPerRun != 10 {
		t.Errorf("maxItemsPerRun = %d, want default", cfg.Pipeline.MaxItemsPerRun)
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	clearConfigEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
database:
  dsn: postgres://file/db
github:
  token: file-token
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(configPathEnv, path)
	t.Setenv(databaseDSNEnv, "postgres://env/db")
	t.Setenv(githubTokenEnv, "env-token")
	t.Setenv(githubOwnerEnv, "env-owner")
	t.Setenv(twitterBearerEnv, "env-bearer")

	cfg := Load()

	if cfg.Database.DSN != "postgres://env/db" {
		t.Errorf("dsn = %q", cfg.Database.DSN)
	}
	if cfg.GitHub.Token != "env-token" {
		t.Errorf("github token = %q", cfg.GitHub.Token)
	}
	if cfg.GitHub.Owner != "env-owner" {
		t.Errorf("github owner = %q", cfg.GitHub.Owner)
	}
	if cfg.Twitter.BearerToken != "env-bearer" {
		t.Errorf("twitter bearer = %q", cfg.Twitter.BearerToken)
	}
}

func TestEventRegistryKeyReachesSourceOptions(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv(eventRegistryKeyEnv, "er-secret")

	cfg := Load()

	var found bool
	for _, src := range cfg.Sources {
		if src.Scanner == "eventregistry" && src.Options["apiKey"] == "er-secret" {
			found = true
		}
	}
	if !found {
		t.Errorf("apiKey override missing from eventregistry source: %+v", cfg.Sources)
	}
}
