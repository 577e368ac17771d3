package resque

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// Worker reserves jobs from its queues in priority order and runs them,
// either in-process or in a short-lived child process per job.
type Worker struct {
	*loop
	blocking bool
	fork     bool
}

func newQueueWorker(rt *Runtime, slot WorkerSlot) (Runner, error) {
	queues := slot.Group.Queues()
	if len(queues) == 0 {
		return nil, fmt.Errorf("%w: worker group %d has no queue", ErrInvalidQueueName, slot.GroupID)
	}
	return NewWorker(rt, slot), nil
}

// NewWorker creates a queue worker for slot.
func NewWorker(rt *Runtime, slot WorkerSlot) *Worker {
	return &Worker{
		loop:     newLoop(rt, "worker", slot.Group.Queues(), slot),
		blocking: slot.Group.Blocking,
		fork:     slot.Group.Fork,
	}
}

// Work runs the worker loop until shutdown. With a zero interval it
// drains its queues once and returns.
func (w *Worker) Work(ctx context.Context) error {
	return w.run(ctx, w)
}

func (w *Worker) tick(ctx context.Context) (bool, error) {
	job, err := w.Reserve(ctx)
	if err != nil || job == nil {
		return false, err
	}
	return true, w.process(ctx, job)
}

func (w *Worker) idle(ctx context.Context) {
	if w.blocking {
		return
	}
	w.logger.Debug("sleeping", "interval", w.interval)
	w.sleep(ctx, w.interval)
}

// Reserve takes the next job from the worker's queues. Earlier queues are
// always drained before later ones are polled.
func (w *Worker) Reserve(ctx context.Context) (*Job, error) {
	queues, err := w.rt.client.ExpandQueues(ctx, w.queues)
	if err != nil {
		return nil, err
	}
	if w.blocking && w.interval > 0 {
		if len(queues) == 0 {
			w.sleep(ctx, w.interval)
			return nil, nil
		}
		job, err := w.rt.client.PopBlocking(ctx, queues, w.interval)
		if err == nil && job != nil {
			w.logger.Info("found job", "queue", job.Queue, "job_id", job.ID)
		}
		return job, err
	}
	for _, q := range queues {
		w.logger.Debug("checking queue", "queue", q)
		job, err := w.rt.client.Pop(ctx, q)
		if err != nil {
			return nil, err
		}
		if job != nil {
			w.logger.Info("found job", "queue", q, "job_id", job.ID)
			return job, nil
		}
	}
	return nil, nil
}

func (w *Worker) process(ctx context.Context, job *Job) error {
	w.rt.events.Trigger(ctx, &Event{
		Name: EventBeforeForkExecutor, Job: job, Queue: job.Queue, Class: job.Class, WorkerID: w.id,
	})
	if err := w.workingOn(ctx, job); err != nil {
		return err
	}

	start := time.Now()
	var err error
	if w.fork {
		err = w.executeChild(ctx, job)
	} else {
		_, err = w.rt.Perform(ctx, job, w.id)
	}
	if err != nil {
		return err
	}
	w.logger.Debug("job done", "job_id", job.ID, "elapsed", time.Since(start))
	return w.doneWorking(ctx)
}

// executeChild runs job in a re-executed copy of this binary. The encoded
// job is written to the child's stdin. A non-zero exit fails the job.
func (w *Worker) executeChild(ctx context.Context, job *Job) error {
	data, err := job.Encode()
	if err != nil {
		return err
	}
	cmd := exec.Command(executable(), os.Args[1:]...)
	cmd.Env = append(os.Environ(), EnvRole+"="+RoleJob, EnvWorkerID+"="+w.id)
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting executor for job %s: %w", job.ID, err)
	}
	kill := func() { _ = cmd.Process.Kill() }
	w.killChild.Store(&kill)
	defer w.killChild.Store(nil)
	w.logger.Info("forked executor", "job_id", job.ID, "pid", cmd.Process.Pid)

	err = cmd.Wait()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &exitErr):
		cause := fmt.Errorf("%w: exit status %d", ErrDirtyExit, exitErr.ExitCode())
		w.logger.Error("executor exited uncleanly", "job_id", job.ID, "error", cause)
		return w.rt.Fail(ctx, job, w.id, cause)
	default:
		return fmt.Errorf("waiting for executor of job %s: %w", job.ID, err)
	}
}

// RunJobProcess is the body of a per-job executor process: it reads one
// encoded job from r and performs it. Job failures are recorded and are
// not an error; a returned error means the job could not be handled.
func (rt *Runtime) RunJobProcess(ctx context.Context, r io.Reader, workerID string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading job: %w", err)
	}
	job, err := DecodeJob(data)
	if err != nil {
		return err
	}
	_, err = rt.Perform(ctx, job, workerID)
	return err
}
