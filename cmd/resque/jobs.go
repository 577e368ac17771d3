package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	resque "github.com/hectorqin/go-resque"
)

// registerJobs installs the handlers this binary can run. Applications
// embedding the package register their own through resque.Main.
func registerJobs(rt *resque.Runtime) error {
	log := rt.Logger().With("component", "jobs")

	if err := rt.Handle("Test_Job", func(ctx context.Context, job *resque.Job) error {
		log.Info("test job", "job_id", job.ID, "args", job.Args)
		return nil
	}); err != nil {
		return err
	}

	if err := rt.Handle("Failing_Job", func(ctx context.Context, job *resque.Job) error {
		return errors.New("failing job")
	}, resque.DefaultMaxRetry(2), resque.DefaultRetrySeconds(resque.RetrySchedule(5, 30))); err != nil {
		return err
	}

	if err := rt.Handle("echo", func(ctx context.Context, job *resque.Job) error {
		p := job.Params()
		if p == nil {
			return fmt.Errorf("echo: expected params, got %v", job.Args)
		}
		log.Info("echo", "job_id", job.ID, "params", p, "crontab", job.Meta["crontab"])
		return nil
	}); err != nil {
		return err
	}

	return rt.HandleCustom("heartbeat", func(ctx context.Context, w *resque.CustomWorker) error {
		log.Info("heartbeat", "worker", w.ID(), "index", w.GroupIndex(), "of", w.GroupCount(),
			"at", time.Now().Format(time.RFC3339))
		return nil
	})
}
