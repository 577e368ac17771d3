package resque

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
redis_backend: 127.0.0.1:6379
prefix: app
interval: 3
worker_group:
  - type: Worker
    queue: high, low
    nums: 2
  - type: SchedulerWorker
  - type: CrontabWorker
    queue: cron
    interval: 60
    inline: true
manager_timer:
  - interval: 30
    handler: cleanup
    params:
      days: 7
    persistent: false
worker_crontab:
  - name: report
    rule: "0 0 * * * *"
    handler: Report_Job
    singleton: true
`

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Interval)
	assert.Equal(t, "./resque.pid", cfg.PIDFile)
	assert.Equal(t, []string{"stats"}, cfg.Listener)
	assert.Equal(t, 10, cfg.StatusTimeout)

	require.Len(t, cfg.WorkerGroup, 3)
	assert.Equal(t, []string{"high", "low"}, cfg.WorkerGroup[0].Queues())
	assert.Equal(t, 1, cfg.WorkerGroup[1].Nums, "nums defaults to 1")

	require.Len(t, cfg.ManagerTimer, 1)
	assert.False(t, cfg.ManagerTimer[0].IsPersistent())
	assert.Equal(t, 7, cfg.ManagerTimer[0].Params["days"])

	require.Len(t, cfg.WorkerCrontab, 1)
	ct := cfg.WorkerCrontab[0]
	assert.True(t, ct.Singleton)
	assert.Equal(t, defaultMutexExpires, ct.MutexExpires)
}

func TestConfig_Slots(t *testing.T) {
	cfg, err := LoadConfig([]byte(sampleConfig))
	require.NoError(t, err)
	cfg.Blocking = true

	slots := cfg.Slots()
	require.Len(t, slots, 4)

	assert.Equal(t, 0, slots[0].GroupID)
	assert.Equal(t, 0, slots[0].Index)
	assert.Equal(t, 1, slots[1].Index)
	assert.Equal(t, 2, slots[1].GroupCount)
	assert.Equal(t, 3*time.Second, slots[0].Interval)
	assert.True(t, slots[0].Group.Blocking, "global blocking applies to every group")
	assert.True(t, slots[0].Signals)
	assert.Equal(t, cfg.StatisticsFile, slots[0].StatusFile)

	assert.Equal(t, TypeCrontabWorker, slots[3].Group.Type)
	assert.Equal(t, time.Minute, slots[3].Interval)
	assert.Equal(t, defaultMaxInlineCrontabs, slots[3].MaxInlineCrontabs)
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr error
	}{
		{"no worker group", "interval: 5", ErrNoWorkerGroup},
		{"zero interval", "interval: 0\nworker_group: [{queue: a}]", ErrInvalidInterval},
		{"negative group interval", "worker_group: [{queue: a, interval: -1}]", ErrInvalidInterval},
		{"worker without queue", "worker_group: [{type: Worker}]", ErrInvalidQueueName},
		{"bad queue name", "worker_group: [{queue: 'a/b'}]", ErrInvalidQueueName},
		{"timer without interval", "worker_group: [{queue: a}]\nmanager_timer: [{handler: h}]", ErrInvalidInterval},
		{"bad crontab rule", "worker_group: [{queue: a}]\nworker_crontab: [{name: x, rule: '* * * * *', handler: h}]", ErrInvalidCrontab},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig([]byte(tt.yaml))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	for name, y := range map[string]string{
		"custom without handler": "worker_group: [{type: CustomWorker}]",
		"no_fork with two groups": "no_fork: true\nworker_group: [{queue: a}, {queue: b}]",
		"unknown log level":       "log_level: loud\nworker_group: [{queue: a}]",
		"bad yaml":                "worker_group: [",
	} {
		_, err := LoadConfig([]byte(y))
		assert.Error(t, err, name)
	}
}

func TestConfig_WildcardQueue(t *testing.T) {
	cfg, err := LoadConfig([]byte("worker_group: [{queue: '*'}]"))
	require.NoError(t, err)
	assert.Equal(t, []string{WildcardQueue}, cfg.WorkerGroup[0].Queues())
}

func TestConfig_ApplyEnv(t *testing.T) {
	env := map[string]string{
		"INTERVAL":      "9",
		"PREFIX":        "staging",
		"VERBOSE":       "true",
		"WORKER_GROUP":  `[{"type": "Worker", "queue": "mail", "nums": 3}]`,
		"REDIS_BACKEND": "redis://:secret@cache:6379/2",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg, err := LoadConfig([]byte(sampleConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.ApplyEnv(lookup))

	assert.Equal(t, 9, cfg.Interval)
	assert.Equal(t, "staging", cfg.Prefix)
	assert.True(t, cfg.Verbose)
	require.Len(t, cfg.WorkerGroup, 1)
	assert.Equal(t, 3, cfg.WorkerGroup[0].Nums)
	assert.Equal(t, "redis://:secret@cache:6379/2", cfg.RedisBackend)
	assert.Equal(t, "./resque.log", cfg.LogFile, "untouched keys keep their value")

	assert.Error(t, cfg.ApplyEnv(func(k string) (string, bool) {
		if k == "INTERVAL" {
			return "[not, a, number", true
		}
		return "", false
	}))
}

func TestConfig_Level(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "warn", cfg.Level())
	cfg.Verbose = true
	assert.Equal(t, "info", cfg.Level())
	cfg.VVerbose = true
	assert.Equal(t, "debug", cfg.Level())
	cfg.LogLevel = "error"
	assert.Equal(t, "error", cfg.Level())
}

func TestConfig_RedisOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RedisBackend = "redis://cache:6379/1"
	cfg.RedisPassword = "pw"
	cfg.Prefix = "app"

	rcfg := &RedisConfig{}
	for _, opt := range cfg.RedisOptions() {
		opt(rcfg)
	}
	assert.Equal(t, "redis://cache:6379/1", rcfg.URL)
	assert.Equal(t, "pw", rcfg.Password)
	assert.Equal(t, "app", rcfg.Prefix)

	cfg.RedisBackend = "cache:6380"
	rcfg = &RedisConfig{}
	for _, opt := range cfg.RedisOptions() {
		opt(rcfg)
	}
	assert.Equal(t, "cache:6380", rcfg.Addr)
	assert.Empty(t, rcfg.URL)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resque.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))
	t.Setenv("STATUS_TIMEOUT", "4")

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.StatusTimeout)

	_, err = LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfig_NewLogger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Daemonize = true
	cfg.LogFile = filepath.Join(t.TempDir(), "resque.log")
	cfg.LogLevel = "info"

	logger, closer := cfg.NewLogger()
	logger.Info("hello from the daemon")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(cfg.LogFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from the daemon")
}
