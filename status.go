package resque

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a tracked job.
type JobStatus int

// Job status values, as stored.
const (
	StatusWaiting  JobStatus = 1
	StatusRunning  JobStatus = 2
	StatusFailed   JobStatus = 3
	StatusComplete JobStatus = 4
)

// statusTTL bounds how long a status record survives its last write.
const statusTTL = 24 * time.Hour

func (s JobStatus) String() string {
	switch s {
	case StatusWaiting:
		return "waiting"
	case StatusRunning:
		return "running"
	case StatusFailed:
		return "failed"
	case StatusComplete:
		return "complete"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// Terminal reports whether no further transitions are expected.
func (s JobStatus) Terminal() bool {
	return s == StatusFailed || s == StatusComplete
}

type statusRecord struct {
	Status  JobStatus `json:"status"`
	Updated int64     `json:"updated"`
	Started int64     `json:"started"`
}

func statusKey(id string) string {
	return "job:" + id + ":status"
}

// CreateStatus starts tracking a job in the WAITING state.
func (c *Client) CreateStatus(ctx context.Context, id string) error {
	now := time.Now().Unix()
	return c.writeStatus(ctx, id, statusRecord{Status: StatusWaiting, Updated: now, Started: now})
}

// UpdateStatus moves a tracked job to status. Untracked jobs are left alone.
func (c *Client) UpdateStatus(ctx context.Context, id string, status JobStatus) error {
	rec, ok, err := c.readStatus(ctx, id)
	if err != nil || !ok {
		return err
	}
	rec.Status = status
	rec.Updated = time.Now().Unix()
	return c.writeStatus(ctx, id, rec)
}

// Status returns the current status of a tracked job.
func (c *Client) Status(ctx context.Context, id string) (JobStatus, bool, error) {
	rec, ok, err := c.readStatus(ctx, id)
	if err != nil || !ok {
		return 0, false, err
	}
	return rec.Status, true, nil
}

// IsTracking reports whether a status record exists for the job.
func (c *Client) IsTracking(ctx context.Context, id string) (bool, error) {
	return c.rc.Exists(ctx, statusKey(id))
}

// StopTracking deletes the job's status record.
func (c *Client) StopTracking(ctx context.Context, id string) error {
	_, err := c.rc.Del(ctx, statusKey(id))
	return err
}

func (c *Client) readStatus(ctx context.Context, id string) (statusRecord, bool, error) {
	var rec statusRecord
	raw, ok, err := c.rc.Get(ctx, statusKey(id))
	if err != nil || !ok {
		return rec, false, err
	}
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return rec, false, fmt.Errorf("decoding status for job %s: %w", id, err)
	}
	return rec, true, nil
}

func (c *Client) writeStatus(ctx context.Context, id string, rec statusRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding status for job %s: %w", id, err)
	}
	return c.rc.Set(ctx, statusKey(id), data, statusTTL)
}
