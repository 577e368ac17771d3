package resque

import (
	"context"
	"fmt"
	"strings"

	"github.com/hectorqin/go-resque/lua"
	"github.com/redis/go-redis/v9"
)

// scriptRegistry holds loaded Lua scripts keyed by name.
type scriptRegistry struct {
	scripts map[string]*redis.Script
}

func newScriptRegistry() *scriptRegistry {
	return &scriptRegistry{
		scripts: make(map[string]*redis.Script),
	}
}

// load reads all .lua files from the embedded FS and registers them.
func (sr *scriptRegistry) load() error {
	entries, err := lua.Scripts.ReadDir(".")
	if err != nil {
		return fmt.Errorf("reading lua scripts dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".lua") {
			continue
		}
		name := entry.Name()
		data, err := lua.Scripts.ReadFile(name)
		if err != nil {
			return fmt.Errorf("reading lua script %s: %w", name, err)
		}
		sr.scripts[strings.TrimSuffix(name, ".lua")] = redis.NewScript(string(data))
	}

	return nil
}

// run executes a named Lua script.
func (sr *scriptRegistry) run(ctx context.Context, rdb *redis.Client, name string, keys []string, args ...any) *redis.Cmd {
	script, ok := sr.scripts[name]
	if !ok {
		cmd := redis.NewCmd(ctx)
		cmd.SetErr(fmt.Errorf("lua script %q not found", name))
		return cmd
	}
	return script.Run(ctx, rdb, keys, args...)
}
