package resque

// EnqueueOption configures job enqueue behavior.
type EnqueueOption func(*Job)

// Track records a JobStatus for the job, starting at WAITING.
func Track() EnqueueOption {
	return func(j *Job) { j.TrackStatus = true }
}

// MaxRetryTimes overrides the number of retries allowed after the first attempt.
func MaxRetryTimes(n int) EnqueueOption {
	return func(j *Job) { j.MaxRetryTimes = &n }
}

// WithRetrySeconds sets the delay before each retry.
func WithRetrySeconds(r RetrySeconds) EnqueueOption {
	return func(j *Job) { j.RetrySeconds = r }
}

// JobID sets a custom job ID.
func JobID(id string) EnqueueOption {
	return func(j *Job) { j.ID = id }
}

// Meta sets arbitrary metadata on the job.
func Meta(m Payload) EnqueueOption {
	return func(j *Job) { j.Meta = m }
}

// BeforeHandle names a hook run before the handler. Returning Cancelled
// skips the attempt without counting it as a failure.
func BeforeHandle(hook string) EnqueueOption {
	return func(j *Job) { j.BeforeHandle = hook }
}

// OnSuccess names a hook run after a successful attempt.
func OnSuccess(hook string) EnqueueOption {
	return func(j *Job) { j.OnSuccess = hook }
}

// OnError names a hook run after a failed attempt. It consumes the error.
func OnError(hook string) EnqueueOption {
	return func(j *Job) { j.OnError = hook }
}

// OnComplete names a hook run after every attempt, success or failure.
func OnComplete(hook string) EnqueueOption {
	return func(j *Job) { j.OnComplete = hook }
}
