package taskapi

import "strings"

// JobState is the lifecycle of a remote transcription job.
type JobState string

const (
	StateSubmitted JobState = "submitted"
	StatePending   JobState = "pending"
	StateDone      JobState = "done"
	StateFailed    JobState = "failed"
	StateTimedOut  JobState = "timed_out"
)

// Terminal reports whether no further transitions are possible.
func (s JobState) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateTimedOut
}

// Job tracks one submitted task. Only polling moves it forward.
type Job struct {
	ID       string
	State    JobState
	Attempts int
	Result   *JobResult
	Err      string
}

type JobResult struct {
	Transcription string
	Translation   string
}

func NewJob(id string) *Job {
	return &Job{ID: id, State: StateSubmitted}
}

// Apply folds one status response into the job. Unknown statuses count as
// still pending. Terminal jobs ignore further updates.
func (j *Job) Apply(st statusResponse) {
	if j.State.Terminal() {
		return
	}
	j.Attempts++
	switch strings.ToLower(strings.TrimSpace(st.Status)) {
	case "done", "success", "completed":
		j.State = StateDone
		j.Result = &JobResult{}
		if st.Result != nil {
			j.Result.Transcription = strings.TrimSpace(st.Result.Transcription)
			j.Result.Translation = strings.TrimSpace(st.Result.Translation)
			if j.Result.Translation == "" {
				j.Result.Translation = strings.TrimSpace(st.Result.English)
			}
		}
	case "failure", "failed", "error":
		j.State = StateFailed
		j.Err = strings.TrimSpace(st.Error)
		if j.Err == "" {
			j.Err = "transcription job failed"
		}
	default:
		j.State = StatePending
	}
}

// TimeOut marks a job abandoned after the attempt bound.
func (j *Job) TimeOut() {
	if !j.State.Terminal() {
		j.State = StateTimedOut
	}
}

type submitResponse struct {
	TaskID string `json:"task_id"`
}

type statusResponse struct {
	Status string        `json:"status"`
	Result *statusResult `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

type statusResult struct {
	Transcription string `json:"transcription"`
	Translation   string `json:"translation"`
	English       string `json:"english"`
}
