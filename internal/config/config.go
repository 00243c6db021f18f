package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultVotingWindow      = 75
	DefaultMinQuorum         = 2
	DefaultMaxVotesPerAction = 10_000
	DefaultTickMillis        = 400
	DefaultRetrySeconds      = 30
)

const (
	HandoffLedger  = "ledger"
	HandoffRedis   = "redis"
	HandoffLevelDB = "leveldb"
)

// Config models fastvote.yml.
type Config struct {
	Voting struct {
		WindowTicks       uint64 `yaml:"window_ticks"`
		MinQuorum         uint32 `yaml:"min_quorum"`
		MaxVotesPerAction uint32 `yaml:"max_votes_per_action"`
	} `yaml:"voting"`
	Clock struct {
		Genesis    string `yaml:"genesis"`
		TickMillis int64  `yaml:"tick_ms"`
	} `yaml:"clock"`
	Handoff struct {
		Driver       string        `yaml:"driver"`
		RetrySeconds int           `yaml:"retry_seconds"`
		Redis        RedisConfig   `yaml:"redis"`
		LevelDB      LevelDBConfig `yaml:"leveldb"`
	} `yaml:"handoff"`
	Server struct {
		BasePath  string `yaml:"base_path"`
		DevLogin  bool   `yaml:"dev_login"`
		RateLimit struct {
			RPS   int `yaml:"rps"`
			Burst int `yaml:"burst"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// LevelDBConfig locates the archive. A relative path is resolved against the
// workspace directory.
type LevelDBConfig struct {
	Path string `yaml:"path"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with fv config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Voting.WindowTicks == 0 {
		return fmt.Errorf("config.voting.window_ticks must be positive")
	}
	if c.Voting.MaxVotesPerAction == 0 {
		return fmt.Errorf("config.voting.max_votes_per_action must be positive")
	}
	if c.Voting.MinQuorum == 0 {
		return fmt.Errorf("config.voting.min_quorum must be positive")
	}
	if c.Voting.MinQuorum > c.Voting.MaxVotesPerAction {
		return fmt.Errorf("config.voting.min_quorum %d exceeds max_votes_per_action %d", c.Voting.MinQuorum, c.Voting.MaxVotesPerAction)
	}
	if c.Clock.TickMillis <= 0 {
		return fmt.Errorf("config.clock.tick_ms must be positive")
	}
	if _, err := c.GenesisTime(); err != nil {
		return err
	}
	switch c.Handoff.Driver {
	case HandoffLedger:
	case HandoffRedis:
		if strings.TrimSpace(c.Handoff.Redis.Addr) == "" {
			return fmt.Errorf("config.handoff.redis.addr is required for the redis driver")
		}
	case HandoffLevelDB:
		if strings.TrimSpace(c.Handoff.LevelDB.Path) == "" {
			return fmt.Errorf("config.handoff.leveldb.path is required for the leveldb driver")
		}
	default:
		return fmt.Errorf("config.handoff.driver must be one of %q, %q, %q", HandoffLedger, HandoffRedis, HandoffLevelDB)
	}
	if c.Handoff.RetrySeconds < 0 {
		return fmt.Errorf("config.handoff.retry_seconds must not be negative")
	}
	if c.Server.RateLimit.RPS < 0 || c.Server.RateLimit.Burst < 0 {
		return fmt.Errorf("config.server.rate_limit values must not be negative")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d has negative timeout", i)
		}
	}
	return nil
}

// GenesisTime parses the clock genesis; empty means the Unix epoch.
func (c *Config) GenesisTime() (time.Time, error) {
	if strings.TrimSpace(c.Clock.Genesis) == "" {
		return time.Unix(0, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, c.Clock.Genesis)
	if err != nil {
		return time.Time{}, fmt.Errorf("config.clock.genesis: %w", err)
	}
	return t, nil
}

func (c *Config) TickDuration() time.Duration {
	return time.Duration(c.Clock.TickMillis) * time.Millisecond
}

// RetryInterval is how often serve re-sends records the archive missed.
func (c *Config) RetryInterval() time.Duration {
	return time.Duration(c.Handoff.RetrySeconds) * time.Second
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "fastvote.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Voting.WindowTicks == 0 {
		cfg.Voting.WindowTicks = DefaultVotingWindow
	}
	if cfg.Voting.MinQuorum == 0 {
		cfg.Voting.MinQuorum = DefaultMinQuorum
	}
	if cfg.Voting.MaxVotesPerAction == 0 {
		cfg.Voting.MaxVotesPerAction = DefaultMaxVotesPerAction
	}
	if cfg.Clock.TickMillis == 0 {
		cfg.Clock.TickMillis = DefaultTickMillis
	}
	if cfg.Handoff.Driver == "" {
		cfg.Handoff.Driver = HandoffLedger
	}
	if cfg.Handoff.RetrySeconds == 0 {
		cfg.Handoff.RetrySeconds = DefaultRetrySeconds
	}
	if cfg.Handoff.Redis.Prefix == "" {
		cfg.Handoff.Redis.Prefix = "fastvote:commit:"
	}
	if cfg.Handoff.LevelDB.Path == "" {
		cfg.Handoff.LevelDB.Path = ".fastvote/handoff.ldb"
	}
	if cfg.Server.BasePath == "" {
		cfg.Server.BasePath = "/v1"
	}
}

// FromYAML parses and validates config from raw YAML bytes. Omitted fields
// take their defaults.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := rejectExplicitZero(data); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// rejectExplicitZero refuses voting limits written as 0. Omitting a field
// selects its default; an explicit 0 would otherwise be replaced silently.
func rejectExplicitZero(data []byte) error {
	var set struct {
		Voting struct {
			WindowTicks       *uint64 `yaml:"window_ticks"`
			MinQuorum         *uint32 `yaml:"min_quorum"`
			MaxVotesPerAction *uint32 `yaml:"max_votes_per_action"`
		} `yaml:"voting"`
	}
	if err := yaml.Unmarshal(data, &set); err != nil {
		return fmt.Errorf("invalid config yaml: %w", err)
	}
	v := set.Voting
	switch {
	case v.WindowTicks != nil && *v.WindowTicks == 0:
		return fmt.Errorf("config.voting.window_ticks must be positive")
	case v.MinQuorum != nil && *v.MinQuorum == 0:
		return fmt.Errorf("config.voting.min_quorum must be positive; omit it for the default %d", DefaultMinQuorum)
	case v.MaxVotesPerAction != nil && *v.MaxVotesPerAction == 0:
		return fmt.Errorf("config.voting.max_votes_per_action must be positive")
	}
	return nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `voting:
  # ticks an action stays open after creation
  window_ticks: 75
  # votes required before finalize; must be at least 1
  min_quorum: 2
  max_votes_per_action: 10000

clock:
  genesis: "1970-01-01T00:00:00Z"
  tick_ms: 400

handoff:
  driver: ledger
  # seconds between archive retries while serving (redis and leveldb drivers)
  retry_seconds: 30
  redis:
    addr: ""
    db: 0
    prefix: "fastvote:commit:"
  leveldb:
    path: .fastvote/handoff.ldb

server:
  base_path: /v1
  dev_login: false
  rate_limit:
    rps: 0
    burst: 0

webhooks: []
`
