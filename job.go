package resque

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	// maxJobDataSize is the maximum allowed size of an encoded job envelope (1 MB).
	maxJobDataSize = 1 << 20
)

// Payload is a type alias for free-form job data.
type Payload map[string]any

// Job is the envelope placed on a queue or in the delayed schedule.
type Job struct {
	ID            string       `json:"id"`
	Class         string       `json:"class"`
	Args          []any        `json:"args"`
	Queue         string       `json:"queue"`
	ErrorTimes    int          `json:"error_times"`
	MaxRetryTimes *int         `json:"max_retry_times,omitempty"`
	RetrySeconds  RetrySeconds `json:"retry_seconds"`
	TrackStatus   bool         `json:"track_status,omitempty"`
	QueueTime     int64        `json:"queue_time,omitempty"`

	// Hook names resolved through the handler registry.
	BeforeHandle string `json:"before_handle,omitempty"`
	OnSuccess    string `json:"on_success,omitempty"`
	OnError      string `json:"on_error,omitempty"`
	OnComplete   string `json:"on_complete,omitempty"`

	Meta Payload `json:"meta,omitempty"`
}

// NewJob creates a new Job with a generated UUID v7 for the given class.
func NewJob(class string, args ...any) *Job {
	if args == nil {
		args = []any{}
	}
	return &Job{
		ID:    newJobID(),
		Class: class,
		Args:  args,
		Queue: "default",
	}
}

func newJobID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Params returns the first argument when it is a map, which is where
// dispatched and crontab jobs carry their parameters.
func (j *Job) Params() Payload {
	if len(j.Args) == 0 {
		return nil
	}
	switch p := j.Args[0].(type) {
	case Payload:
		return p
	case map[string]any:
		return p
	}
	return nil
}

// Decode unmarshals the first argument into the given target.
func (j *Job) Decode(target any) error {
	if len(j.Args) == 0 {
		return nil
	}
	data, err := json.Marshal(j.Args[0])
	if err != nil {
		return fmt.Errorf("encoding args for decode: %w", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decoding args: %w", err)
	}
	return nil
}

// Encode serializes the job to JSON bytes.
func (j *Job) Encode() ([]byte, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("encoding job: %w", err)
	}
	if len(data) > maxJobDataSize {
		return nil, ErrJobDataTooLarge
	}
	return data, nil
}

// DecodeJob deserializes a Job from JSON bytes.
func DecodeJob(data []byte) (*Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("decoding job: %w", err)
	}
	if j.Args == nil {
		j.Args = []any{}
	}
	return &j, nil
}

// Clone returns a deep enough copy of the job for re-queueing.
func (j *Job) Clone() *Job {
	c := *j
	c.Args = append([]any(nil), j.Args...)
	if j.MaxRetryTimes != nil {
		n := *j.MaxRetryTimes
		c.MaxRetryTimes = &n
	}
	if j.RetrySeconds.IsList() {
		c.RetrySeconds.Steps = append([]int{}, j.RetrySeconds.Steps...)
	}
	if j.Meta != nil {
		c.Meta = make(Payload, len(j.Meta))
		for k, v := range j.Meta {
			c.Meta[k] = v
		}
	}
	return &c
}

func (j *Job) metaString(key string) string {
	if j.Meta == nil {
		return ""
	}
	s, _ := j.Meta[key].(string)
	return s
}

func (j *Job) stamp() {
	if j.QueueTime == 0 {
		j.QueueTime = time.Now().Unix()
	}
}

// RetrySeconds is either a flat delay or a per-attempt list of delays.
// On the wire it is a number or an array of numbers.
type RetrySeconds struct {
	Delay int
	Steps []int
}

// RetryEvery returns a flat retry delay.
func RetryEvery(seconds int) RetrySeconds {
	return RetrySeconds{Delay: seconds}
}

// RetrySchedule returns a per-attempt retry delay list.
func RetrySchedule(seconds ...int) RetrySeconds {
	if seconds == nil {
		seconds = []int{}
	}
	return RetrySeconds{Steps: seconds}
}

// IsList reports whether the delay is a per-attempt list.
func (r RetrySeconds) IsList() bool {
	return r.Steps != nil
}

// At returns the delay before the retry following attempt number attempt
// (zero-based). Past the end of a list the delay is zero.
func (r RetrySeconds) At(attempt int) int {
	if !r.IsList() {
		return r.Delay
	}
	if attempt < 0 || attempt >= len(r.Steps) {
		return 0
	}
	return r.Steps[attempt]
}

func (r RetrySeconds) MarshalJSON() ([]byte, error) {
	if r.IsList() {
		return json.Marshal(r.Steps)
	}
	return json.Marshal(r.Delay)
}

func (r *RetrySeconds) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = RetrySeconds{}
		return nil
	}
	if data[0] == '[' {
		var steps []int
		if err := json.Unmarshal(data, &steps); err != nil {
			return fmt.Errorf("decoding retry_seconds: %w", err)
		}
		if steps == nil {
			steps = []int{}
		}
		*r = RetrySeconds{Steps: steps}
		return nil
	}
	var d int
	if err := json.Unmarshal(data, &d); err != nil {
		return fmt.Errorf("decoding retry_seconds: %w", err)
	}
	*r = RetrySeconds{Delay: d}
	return nil
}

// UnmarshalYAML lets configuration files use the same number-or-list form.
func (r *RetrySeconds) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.SequenceNode {
		steps := []int{}
		if err := value.Decode(&steps); err != nil {
			return fmt.Errorf("decoding retry_seconds: %w", err)
		}
		*r = RetrySeconds{Steps: steps}
		return nil
	}
	var d int
	if err := value.Decode(&d); err != nil {
		return fmt.Errorf("decoding retry_seconds: %w", err)
	}
	*r = RetrySeconds{Delay: d}
	return nil
}
