// Package resque provides a Redis-backed background job system compatible
// with the php-resque storage layout.
//
// Producers push jobs onto named queues, optionally delayed to a future
// unix second. Worker processes reserve jobs in queue priority order and
// run registered handlers, retrying failures according to each job's
// retry policy. A scheduler worker moves due delayed jobs into their
// queues and a crontab worker materializes six-field crontab rules into
// jobs, with Redis locks so that each firing runs once across hosts.
//
// A Manager supervises the worker processes described by a YAML
// configuration: it re-executes the binary once per worker slot,
// respawns children that exit, runs manager timers, and answers the
// start, stop, restart, kill and status commands.
//
// Quick start:
//
//	// Producer: enqueue jobs
//	rt, _ := resque.NewRuntime(resque.WithRedis(resque.WithRedisAddr("localhost:6379")))
//	rt.Dispatch("email.send").Queue("mail").Params(resque.Payload{"to": "user@example.com"}).Submit(ctx)
//
//	// Supervisor: register handlers and run the configured worker groups
//	os.Exit(resque.Main(ctx, "resque.yaml", os.Args[1:], func(rt *resque.Runtime) error {
//		return rt.Handle("email.send", sendEmail)
//	}))
package resque
