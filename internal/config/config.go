package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	configPathEnv       = "SHA256NEWS_CONFIG"
	databaseDSNEnv      = "DATABASE_DSN"
	eventRegistryKeyEnv = "EVENT_REGISTRY_API_KEY"
	geminiKeyEnv        = "GEMINI_API_KEY"
	githubTokenEnv      = "GITHUB_TOKEN"
	githubOwnerEnv      = "GITHUB_REPO_OWNER"
	githubRepoEnv       = "GITHUB_REPO_NAME"
	twitterBearerEnv    = "TWITTER_BEARER_TOKEN"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Database DatabaseConfig `yaml:"database"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Sources  []SourceConfig `yaml:"sources"`
	Gemini   GeminiConfig   `yaml:"gemini"`
	GitHub   GitHubConfig   `yaml:"github"`
	Twitter  TwitterConfig  `yaml:"twitter"`
}

// LoggingConfig controls the slog level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DatabaseConfig describes Postgres connection details. An empty DSN switches
// the fingerprint store and run ledger to in-memory implementations.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// PipelineConfig bounds a single orchestrator run.
type PipelineConfig struct {
	MaxItemsPerRun int           `yaml:"maxItemsPerRun"`
	DaysBack       int           `yaml:"daysBack"`
	Concurrency    int           `yaml:"concurrency"`
	CallTimeout    time.Duration `yaml:"callTimeout"`
	TargetOrder    []string      `yaml:"targetOrder"`
	PrimaryTarget  string        `yaml:"primaryTarget"`
	Draft          bool          `yaml:"draft"`
}

// SourceConfig describes a single news source with its scanner strategy.
type SourceConfig struct {
	Name    string            `yaml:"name"`
	Scanner string            `yaml:"scanner"`
	Options map[string]string `yaml:"options"`
}

// GeminiConfig defines how to contact the Gemini generateContent API.
type GeminiConfig struct {
	Endpoint   string `yaml:"endpoint"`
	Model      string `yaml:"model"`
	APIKey     string `yaml:"apiKey"`
	FocusAngle string `yaml:"focusAngle"`
}

// GitHubConfig wires the Pages repository that hosts published articles.
type GitHubConfig struct {
	APIBase     string `yaml:"apiBase"`
	Token       string `yaml:"token"`
	Owner       string `yaml:"owner"`
	Repo        string `yaml:"repo"`
	Branch      string `yaml:"branch"`
	PagesPath   string `yaml:"pagesPath"`
	CreateIssue bool   `yaml:"createIssue"`
}

// TwitterConfig wires the thread writer.
type TwitterConfig struct {
	APIBase     string `yaml:"apiBase"`
	BearerToken string `yaml:"bearerToken"`
	MaxTweets   int    `yaml:"maxTweets"`
}

// Load reads .env files, YAML configuration (if present), and applies
// environment overrides for secrets.
func Load() Config {
	loadEnvFiles()

	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()

	if len(cfg.Sources) == 0 {
		cfg.Sources = defaultConfig().Sources
	}

	return cfg
}

func loadEnvFiles() {
	for _, file := range []string{".env", ".env.dev"} {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Overload(file); err != nil {
			log.Printf("config: cannot load %s: %v", file, err)
		}
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv(eventRegistryKeyEnv); v != "" {
		for i := range c.Sources {
			if c.Sources[i].Scanner != "eventregistry" {
				continue
			}
			if c.Sources[i].Options == nil {
				c.Sources[i].Options = map[string]string{}
			}
			c.Sources[i].Options["apiKey"] = v
		}
	}

	if v := os.Getenv(geminiKeyEnv); v != "" {
		c.Gemini.APIKey = v
	}

	if v := os.Getenv(githubTokenEnv); v != "" {
		c.GitHub.Token = v
	}
	if v := os.Getenv(githubOwnerEnv); v != "" {
		c.GitHub.Owner = v
	}
	if v := os.Getenv(githubRepoEnv); v != "" {
		c.GitHub.Repo = v
	}

	if v := os.Getenv(twitterBearerEnv); v != "" {
		c.Twitter.BearerToken = v
	}
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging = override.Logging
	}

	if override.Database.DSN != "" {
		base.Database = override.Database
	}

	if override.Pipeline.MaxItemsPerRun > 0 {
		base.Pipeline.MaxItemsPerRun = override.Pipeline.MaxItemsPerRun
	}
	if override.Pipeline.DaysBack > 0 {
		base.Pipeline.DaysBack = override.Pipeline.DaysBack
	}
	if override.Pipeline.Concurrency > 0 {
		base.Pipeline.Concurrency = override.Pipeline.Concurrency
	}
	if override.Pipeline.CallTimeout > 0 {
		base.Pipeline.CallTimeout = override.Pipeline.CallTimeout
	}
	if len(override.Pipeline.TargetOrder) > 0 {
		base.Pipeline.TargetOrder = override.Pipeline.TargetOrder
	}
	if override.Pipeline.PrimaryTarget != "" {
		base.Pipeline.PrimaryTarget = override.Pipeline.PrimaryTarget
	}
	if override.Pipeline.Draft {
		base.Pipeline.Draft = true
	}

	if override.Gemini.Endpoint != "" {
		base.Gemini.Endpoint = override.Gemini.Endpoint
	}
	if override.Gemini.Model != "" {
		base.Gemini.Model = override.Gemini.Model
	}
	if override.Gemini.APIKey != "" {
		base.Gemini.APIKey = override.Gemini.APIKey
	}
	if override.Gemini.FocusAngle != "" {
		base.Gemini.FocusAngle = override.Gemini.FocusAngle
	}

	if override.GitHub.APIBase != "" {
		base.GitHub.APIBase = override.GitHub.APIBase
	}
	if override.GitHub.Token != "" {
		base.GitHub.Token = override.GitHub.Token
	}
	if override.GitHub.Owner != "" {
		base.GitHub.Owner = override.GitHub.Owner
	}
	if override.GitHub.Repo != "" {
		base.GitHub.Repo = override.GitHub.Repo
	}
	if override.GitHub.Branch != "" {
		base.GitHub.Branch = override.GitHub.Branch
	}
	if override.GitHub.PagesPath != "" {
		base.GitHub.PagesPath = override.GitHub.PagesPath
	}
	if override.GitHub.CreateIssue {
		base.GitHub.CreateIssue = true
	}

	if override.Twitter.APIBase != "" {
		base.Twitter.APIBase = override.Twitter.APIBase
	}
	if override.Twitter.BearerToken != "" {
		base.Twitter.BearerToken = override.Twitter.BearerToken
	}
	if override.Twitter.MaxTweets > 0 {
		base.Twitter.MaxTweets = override.Twitter.MaxTweets
	}

	if len(override.Sources) > 0 {
		base.Sources = override.Sources
	}

	return base
}

func defaultConfig() Config {
	return Config{
		Logging:  LoggingConfig{Level: "info"},
		Database: DatabaseConfig{DSN: ""},
		Pipeline: PipelineConfig{
			MaxItemsPerRun: 10,
			DaysBack:       1,
			Concurrency:    2,
			CallTimeout:    30 * time.Second,
			TargetOrder:    []string{"github", "twitter"},
			PrimaryTarget:  "github",
		},
		Gemini: GeminiConfig{
			Endpoint:   "https://generativelanguage.googleapis.com",
			Model:      "gemini-1.5-pro",
			FocusAngle: "mining industry impact",
		},
		GitHub: GitHubConfig{
			APIBase:     "https://api.github.com",
			Owner:       "SHA256-news",
			Repo:        "sha256-news-site",
			Branch:      "main",
			PagesPath:   "docs",
			CreateIssue: true,
		},
		Twitter: TwitterConfig{
			APIBase:   "https://api.twitter.com",
			MaxTweets: 10,
		},
		Sources: []SourceConfig{
			{
				Name:    "eventregistry",
				Scanner: "eventregistry",
				Options: map[string]string{
					"endpoint": "https://eventregistry.org/api/v1/article/getArticles",
					"keyword":  "bitcoin mining",
				},
			},
		},
	}
}

// LevelOrDefault normalizes an empty logging level.
func (l LoggingConfig) LevelOrDefault() string {
	if strings.TrimSpace(l.Level) == "" {
		return "info"
	}
	return l.Level
}
