package resque

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"
)

// Config represents the supervisor configuration file.
type Config struct {
	Daemonize      bool   `yaml:"daemonize"`
	RedisBackend   string `yaml:"redis_backend"` // host:port or redis:// URL
	RedisPassword  string `yaml:"redis_password"`
	RedisDatabase  int    `yaml:"redis_database"`
	Prefix         string `yaml:"prefix"`
	Interval       int    `yaml:"interval"` // seconds
	Blocking       bool   `yaml:"blocking"`
	PIDFile        string `yaml:"pidfile"`
	LogFile        string `yaml:"log_file"`
	StatisticsFile string `yaml:"statistics_file"`
	FatalLog       string `yaml:"fatal_log"`
	NoFork         bool   `yaml:"no_fork"`
	Verbose        bool   `yaml:"verbose"`
	VVerbose       bool   `yaml:"vverbose"`
	LogLevel       string `yaml:"log_level"`
	StatusTimeout  int    `yaml:"status_timeout"` // seconds

	MaxInlineCrontabs int `yaml:"max_inline_crontabs"`

	WorkerGroup   []WorkerGroup  `yaml:"worker_group"`
	Listener      []string       `yaml:"listener"`
	ManagerTimer  []ManagerTimer `yaml:"manager_timer"`
	WorkerCrontab []Crontab      `yaml:"worker_crontab"`
}

// WorkerGroup declares Nums identical worker processes.
type WorkerGroup struct {
	Type     string `yaml:"type"`
	Queue    string `yaml:"queue"` // comma separated, in priority order
	Nums     int    `yaml:"nums"`
	Interval int    `yaml:"interval"` // seconds, 0 = global interval
	Blocking bool   `yaml:"blocking"`
	Fork     bool   `yaml:"fork"`
	Handler  string `yaml:"handler"` // CustomWorker only
	Inline   bool   `yaml:"inline"`  // CrontabWorker only
}

// Queues splits the queue list of the group.
func (g WorkerGroup) Queues() []string {
	var out []string
	for _, q := range strings.Split(g.Queue, ",") {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	return out
}

// ManagerTimer runs a registered handler inside the manager every Interval
// seconds. A non-persistent timer fires once.
type ManagerTimer struct {
	Interval   int     `yaml:"interval"`
	Handler    string  `yaml:"handler"`
	Params     Payload `yaml:"params"`
	Persistent *bool   `yaml:"persistent"` // nil = true
}

// IsPersistent reports whether the timer repeats.
func (t ManagerTimer) IsPersistent() bool {
	return t.Persistent == nil || *t.Persistent
}

// DefaultConfig returns the configuration used for unset keys.
func DefaultConfig() *Config {
	return &Config{
		Interval:          5,
		PIDFile:           "./resque.pid",
		LogFile:           "./resque.log",
		StatisticsFile:    "./resque.status",
		FatalLog:          "./resque-error.log",
		StatusTimeout:     10,
		MaxInlineCrontabs: defaultMaxInlineCrontabs,
		Listener:          []string{"stats"},
	}
}

// LoadConfig parses YAML bytes over the defaults and validates the result.
func LoadConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config yaml: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// LoadConfigFile reads a YAML file, applies environment overrides and
// returns a validated Config.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config yaml: %w", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides keys from the environment. Each key is looked up
// uppercased and its value decoded as YAML, so structured keys such as
// WORKER_GROUP accept inline YAML or JSON.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, key := range configKeys() {
		raw, ok := lookup(strings.ToUpper(key))
		if !ok {
			continue
		}
		var value yaml.Node
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
			return fmt.Errorf("env %s: %w", strings.ToUpper(key), err)
		}
		node := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: raw}
		if value.Kind == yaml.DocumentNode && len(value.Content) > 0 {
			node = value.Content[0]
		}
		doc := &yaml.Node{Kind: yaml.MappingNode, Content: []*yaml.Node{
			{Kind: yaml.ScalarNode, Value: key}, node,
		}}
		if err := doc.Decode(c); err != nil {
			return fmt.Errorf("env %s: %w", strings.ToUpper(key), err)
		}
	}
	return nil
}

// configKeys lists the yaml keys of Config.
func configKeys() []string {
	t := reflect.TypeOf(Config{})
	keys := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		if tag := strings.Split(t.Field(i).Tag.Get("yaml"), ",")[0]; tag != "" && tag != "-" {
			keys = append(keys, tag)
		}
	}
	return keys
}

// validate performs structural validation of the configuration.
func (c *Config) validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be > 0, got %d", ErrInvalidInterval, c.Interval)
	}
	if c.RedisDatabase < 0 {
		return fmt.Errorf("redis_database must be >= 0")
	}
	if c.LogLevel != "" {
		if _, ok := parseLevel(c.LogLevel); !ok {
			return fmt.Errorf("log_level: unknown level %q", c.LogLevel)
		}
	}
	if c.StatusTimeout < 0 {
		return fmt.Errorf("status_timeout must be >= 0")
	}
	if c.MaxInlineCrontabs < 0 {
		return fmt.Errorf("max_inline_crontabs must be >= 0")
	}

	if len(c.WorkerGroup) == 0 {
		return ErrNoWorkerGroup
	}
	if c.NoFork && len(c.WorkerGroup) > 1 {
		return fmt.Errorf("no_fork supports exactly one worker_group, got %d", len(c.WorkerGroup))
	}
	for i := range c.WorkerGroup {
		g := &c.WorkerGroup[i]
		if g.Type == "" {
			g.Type = TypeWorker
		}
		if g.Nums == 0 {
			g.Nums = 1
		}
		if g.Nums < 0 {
			return fmt.Errorf("worker_group[%d]: nums must be >= 0", i)
		}
		if g.Interval < 0 {
			return fmt.Errorf("%w: worker_group[%d] interval %d", ErrInvalidInterval, i, g.Interval)
		}
		for _, q := range g.Queues() {
			if q == WildcardQueue {
				continue
			}
			if err := validateQueueName(q); err != nil {
				return fmt.Errorf("worker_group[%d]: queue %q: %w", i, q, err)
			}
		}
		switch g.Type {
		case TypeWorker:
			if len(g.Queues()) == 0 {
				return fmt.Errorf("worker_group[%d]: %w: queue must not be empty", i, ErrInvalidQueueName)
			}
		case TypeCustomWorker:
			if g.Handler == "" {
				return fmt.Errorf("worker_group[%d]: custom worker requires handler", i)
			}
		}
	}

	for i, t := range c.ManagerTimer {
		if t.Interval <= 0 {
			return fmt.Errorf("%w: manager_timer[%d] interval %d", ErrInvalidInterval, i, t.Interval)
		}
		if t.Handler == "" {
			return fmt.Errorf("manager_timer[%d]: handler must not be empty", i)
		}
	}

	for i, ct := range c.WorkerCrontab {
		if !IsValidRule(ct.Rule) {
			return fmt.Errorf("%w: worker_crontab[%d] %q rule %q", ErrInvalidCrontab, i, ct.Name, ct.Rule)
		}
	}
	return nil
}

// RedisOptions builds the storage options for this configuration.
func (c *Config) RedisOptions() []RedisOption {
	var opts []RedisOption
	switch {
	case strings.Contains(c.RedisBackend, "://"):
		opts = append(opts, WithRedisURL(c.RedisBackend))
	case c.RedisBackend != "":
		opts = append(opts, WithRedisAddr(c.RedisBackend))
	}
	if c.RedisPassword != "" {
		opts = append(opts, WithRedisPassword(c.RedisPassword))
	}
	if c.RedisDatabase != 0 {
		opts = append(opts, WithRedisDB(c.RedisDatabase))
	}
	if c.Prefix != "" {
		opts = append(opts, WithPrefix(c.Prefix))
	}
	return opts
}

// Level resolves the effective log level name. An explicit log_level wins
// over vverbose and verbose.
func (c *Config) Level() string {
	switch {
	case c.LogLevel != "":
		return c.LogLevel
	case c.VVerbose:
		return "debug"
	case c.Verbose:
		return "info"
	}
	return "warn"
}

// NewLogger creates the process logger. Daemonized processes write to a
// rotating log file, others to stderr.
func (c *Config) NewLogger() (*slog.Logger, io.Closer) {
	var w io.Writer = os.Stderr
	var closer io.Closer = io.NopCloser(nil)
	if c.Daemonize && c.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename:   c.LogFile,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
		}
		w, closer = lj, lj
	}
	return newLoggerFromLevel(w, c.Level()), closer
}

// Slots expands the worker groups into one slot per process.
func (c *Config) Slots() []WorkerSlot {
	var slots []WorkerSlot
	for gid, g := range c.WorkerGroup {
		for i := 0; i < g.Nums; i++ {
			slots = append(slots, c.slot(gid, i))
		}
	}
	return slots
}

func (c *Config) slot(gid, index int) WorkerSlot {
	g := c.WorkerGroup[gid]
	interval := g.Interval
	if interval == 0 {
		interval = c.Interval
	}
	g.Blocking = g.Blocking || c.Blocking
	return WorkerSlot{
		Group:             g,
		GroupID:           gid,
		Index:             index,
		GroupCount:        g.Nums,
		Interval:          time.Duration(interval) * time.Second,
		StatusFile:        c.StatisticsFile,
		Signals:           true,
		MaxInlineCrontabs: c.MaxInlineCrontabs,
	}
}
