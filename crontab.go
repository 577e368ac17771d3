package resque

import (
	"context"
	"crypto/sha1" //nolint:gosec // lock key digest, not a security boundary
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultMutexExpires = 3600

	// Hook names attached to every crontab firing.
	HookCrontabLock   = "crontab.lock"
	HookCrontabUnlock = "crontab.unlock"

	metaLockKey          = "lock_key"
	metaSingletonLockKey = "singleton_lock_key"
	metaSingletonExpire  = "singleton_lock_expire"
	metaExecuteTime      = "execute_time"
	metaExecuteDateTime  = "execute_date_time"
	metaCrontab          = "crontab"
)

// Crontab is a recurring job definition. ExecuteTime is zero on the
// registered definition and set on each materialized firing.
type Crontab struct {
	Name         string  `yaml:"name" json:"name"`
	Rule         string  `yaml:"rule" json:"rule"`
	Handler      string  `yaml:"handler" json:"handler"`
	Params       Payload `yaml:"params" json:"params,omitempty"`
	Singleton    bool    `yaml:"singleton" json:"singleton,omitempty"`
	MutexPool    string  `yaml:"mutex_pool" json:"mutex_pool,omitempty"`
	MutexExpires int     `yaml:"mutex_expires" json:"mutex_expires"`
	OnOneServer  bool    `yaml:"on_one_server" json:"on_one_server,omitempty"`
	Memo         string  `yaml:"memo" json:"memo,omitempty"`

	ExecuteTime int64 `yaml:"-" json:"execute_time,omitempty"`
}

// NewCrontab returns a crontab with the default mutex settings.
func NewCrontab(name, rule, handler string, params Payload) Crontab {
	return Crontab{
		Name:         name,
		Rule:         rule,
		Handler:      handler,
		Params:       params,
		MutexPool:    "default",
		MutexExpires: defaultMutexExpires,
	}
}

// UnmarshalYAML applies the default mutex settings before decoding.
func (c *Crontab) UnmarshalYAML(value *yaml.Node) error {
	type plain Crontab
	p := plain(NewCrontab("", "", "", nil))
	if err := value.Decode(&p); err != nil {
		return err
	}
	*c = Crontab(p)
	return nil
}

// lockKey identifies one firing of this crontab.
func (c Crontab) lockKey() string {
	return "crontab-" + sha1Hex(c.Name+c.Rule+strconv.FormatInt(c.ExecuteTime, 10))
}

// singletonLockKey identifies this crontab regardless of firing time.
func (c Crontab) singletonLockKey() string {
	return "crontab-singleton-" + sha1Hex(c.Name+c.Rule)
}

// lockExpiry is mutexExpires, or the rest of the current minute when zero.
func (c Crontab) lockExpiry(now time.Time) time.Duration {
	if c.MutexExpires > 0 {
		return time.Duration(c.MutexExpires) * time.Second
	}
	return time.Duration(60-now.Second()) * time.Second
}

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// CrontabManager holds the registered crontabs keyed by name.
type CrontabManager struct {
	mu       sync.RWMutex
	crontabs map[string]Crontab
	registry *Registry
	now      func() time.Time
}

// NewCrontabManager creates a manager validating handlers against reg.
// A nil registry skips the handler check.
func NewCrontabManager(reg *Registry) *CrontabManager {
	return &CrontabManager{
		crontabs: make(map[string]Crontab),
		registry: reg,
		now:      time.Now,
	}
}

// Register validates and stores c, replacing any crontab with the same name.
// A false result must be treated as a fatal configuration error.
func (m *CrontabManager) Register(c Crontab) bool {
	if c.Name == "" || c.Rule == "" || c.Handler == "" || !IsValidRule(c.Rule) {
		return false
	}
	if m.registry != nil && !m.registry.HasHandler(c.Handler) {
		return false
	}
	c.ExecuteTime = 0
	m.mu.Lock()
	m.crontabs[c.Name] = c
	m.mu.Unlock()
	return true
}

// Crontabs returns the registered crontabs ordered by name.
func (m *CrontabManager) Crontabs() []Crontab {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Crontab, 0, len(m.crontabs))
	for _, c := range m.crontabs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered crontabs.
func (m *CrontabManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.crontabs)
}

// Parse materializes every firing in the current reference minute.
func (m *CrontabManager) Parse() []Crontab {
	return m.ParseAt(m.now())
}

// ParseAt materializes every firing in the reference minute for now.
// Each firing is an independent copy with ExecuteTime set.
func (m *CrontabManager) ParseAt(now time.Time) []Crontab {
	ref := referenceMinute(now)
	var out []Crontab
	for _, c := range m.Crontabs() {
		r, err := ParseRule(c.Rule)
		if err != nil {
			continue
		}
		for _, ts := range r.Within(ref) {
			fire := c
			fire.Params = clonePayload(c.Params)
			fire.ExecuteTime = ts
			out = append(out, fire)
		}
	}
	return out
}

func clonePayload(p Payload) Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// RunCrontab claims a materialized firing and hands it to queue: delayed
// until its execute time when that is still ahead, enqueued now otherwise.
// It returns false when another process already claimed the firing.
func (c *Client) RunCrontab(ctx context.Context, ct Crontab, queue string) (bool, error) {
	job, diff, ok, err := c.claimCrontab(ctx, ct, queue)
	if err != nil || !ok {
		return false, err
	}
	if diff > 0 {
		err = c.DelayedPush(ctx, ct.ExecuteTime, job)
	} else {
		_, err = c.Push(ctx, job)
	}
	if err != nil {
		return false, fmt.Errorf("running crontab %s: %w", ct.Name, err)
	}
	return true, nil
}

// claimCrontab takes the per-firing lock and builds the job for the firing.
// diff is how far ahead of now the firing is due.
func (c *Client) claimCrontab(ctx context.Context, ct Crontab, queue string) (*Job, time.Duration, bool, error) {
	if ct.ExecuteTime == 0 {
		return nil, 0, false, fmt.Errorf("%w: %s has no execute time", ErrInvalidCrontab, ct.Name)
	}
	now := time.Now()
	lockKey := ct.lockKey()
	expiry := ct.lockExpiry(now)
	ok, err := c.rc.SetNX(ctx, lockKey, strconv.Itoa(pid()), expiry)
	if err != nil {
		return nil, 0, false, err
	}
	log := c.logger.With("crontab", ct.Name, "execute_time", ct.ExecuteTime)
	if !ok {
		log.Debug("crontab lock failed")
		return nil, 0, false, nil
	}
	log.Debug("crontab lock succeeded")

	meta := Payload{
		metaLockKey:         lockKey,
		metaExecuteTime:     ct.ExecuteTime,
		metaExecuteDateTime: time.Unix(ct.ExecuteTime, 0).Format(time.DateTime),
		metaCrontab:         ct.Name,
	}
	if ct.Singleton {
		meta[metaSingletonLockKey] = ct.singletonLockKey()
		meta[metaSingletonExpire] = int(expiry / time.Second)
	}

	job := NewJob(ct.Handler, ct.Params)
	job.Queue = queue
	job.TrackStatus = true
	job.BeforeHandle = HookCrontabLock
	job.OnComplete = HookCrontabUnlock
	job.Meta = meta

	return job, time.Unix(ct.ExecuteTime, 0).Sub(now), true, nil
}

// registerCrontabHooks installs the lock hooks every crontab firing names.
// The per-firing lock is released before the handler runs; the singleton
// lock is taken then and released only once the attempt completes.
func registerCrontabHooks(reg *Registry, c *Client, logger *slog.Logger) error {
	lock := func(ctx context.Context, job *Job) (Outcome, error) {
		if key := job.metaString(metaLockKey); key != "" {
			logger.Debug("clear crontab lock", "key", key)
			if _, err := c.rc.Del(ctx, key); err != nil {
				return Proceed, err
			}
		}
		key := job.metaString(metaSingletonLockKey)
		if key == "" {
			return Proceed, nil
		}
		expire := metaInt(job.Meta, metaSingletonExpire)
		if expire <= 0 {
			expire = 60 - time.Now().Second()
		}
		ok, err := c.rc.SetNX(ctx, key, strconv.Itoa(pid()), time.Duration(expire)*time.Second)
		if err != nil {
			return Proceed, err
		}
		if !ok {
			logger.Info("crontab singleton lock failed", "crontab", job.metaString(metaCrontab), "job_id", job.ID)
			return Cancelled, nil
		}
		return Proceed, nil
	}
	unlock := func(ctx context.Context, job *Job) (Outcome, error) {
		key := job.metaString(metaSingletonLockKey)
		if key == "" {
			return Proceed, nil
		}
		logger.Debug("clear crontab singleton lock", "key", key)
		_, err := c.rc.Del(ctx, key)
		return Proceed, err
	}
	if err := reg.HandleHook(HookCrontabLock, lock); err != nil {
		return err
	}
	return reg.HandleHook(HookCrontabUnlock, unlock)
}

// metaInt reads an integer that may have round-tripped through JSON.
func metaInt(m Payload, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		return parseInt(v)
	}
	return 0
}
