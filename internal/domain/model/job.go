package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the state of a conversion job.
type JobStatus string

const (
	JobStatusWaiting    JobStatus = "waiting"
	JobStatusProcessing JobStatus = "processing"
	JobStatusReady      JobStatus = "ready"
	JobStatusFailed     JobStatus = "failed"
)

// Valid job transitions:
// waiting -> processing -> ready
//                     \-> failed -> waiting (operator retry)
var validJobTransitions = map[JobStatus][]JobStatus{
	JobStatusWaiting:    {JobStatusProcessing, JobStatusFailed},
	JobStatusProcessing: {JobStatusReady, JobStatusFailed},
	JobStatusReady:      {},
	JobStatusFailed:     {JobStatusWaiting},
}

func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusWaiting, JobStatusProcessing, JobStatusReady, JobStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further automatic transition will happen.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusReady || s == JobStatusFailed
}

func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, status := range validJobTransitions[s] {
		if status == next {
			return true
		}
	}
	return false
}

func (s JobStatus) String() string {
	return string(s)
}

// EncodeOptions are the known engine knobs a job may override.
// Zero values mean "use the transcoder default".
type EncodeOptions struct {
	Preset       string `json:"preset,omitempty"`
	VideoCodec   string `json:"video_codec,omitempty"`
	AudioCodec   string `json:"audio_codec,omitempty"`
	AudioBitrate string `json:"audio_bitrate,omitempty"`
	// Extra carries engine flags with no typed field.
	Extra map[string]string `json:"extra,omitempty"`
}

// ConversionJob is one transcoding attempt for an (asset, resolution) pair.
type ConversionJob struct {
	ID          uuid.UUID
	AssetID     uuid.UUID
	Resolution  string
	Status      JobStatus
	Progress    int
	Attempt     int
	Options     EncodeOptions
	LastError   string
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

var (
	ErrInvalidResolution = errors.New("unknown resolution")
	ErrInvalidAssetID    = errors.New("asset ID cannot be nil")
)

// NewConversionJob creates a waiting job for one resolution.
func NewConversionJob(assetID uuid.UUID, resolution string, opts EncodeOptions) (*ConversionJob, error) {
	if assetID == uuid.Nil {
		return nil, ErrInvalidAssetID
	}
	if _, ok := LookupResolution(resolution); !ok {
		return nil, ErrInvalidResolution
	}

	now := time.Now()
	return &ConversionJob{
		ID:         uuid.New(),
		AssetID:    assetID,
		Resolution: resolution,
		Status:     JobStatusWaiting,
		Attempt:    1,
		Options:    opts,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// TransitionTo attempts to change the job status and stamps timestamps.
func (j *ConversionJob) TransitionTo(next JobStatus) error {
	if !next.IsValid() || !j.Status.CanTransitionTo(next) {
		return ErrInvalidTransition
	}

	now := time.Now()
	switch next {
	case JobStatusProcessing:
		j.StartedAt = &now
		j.CompletedAt = nil
	case JobStatusReady:
		j.Progress = 100
		j.CompletedAt = &now
	case JobStatusFailed:
		j.CompletedAt = &now
	}
	j.Status = next
	j.UpdatedAt = now
	return nil
}

// Fail moves the job to failed, keeping the captured error text.
func (j *ConversionJob) Fail(reason string) error {
	if err := j.TransitionTo(JobStatusFailed); err != nil {
		return err
	}
	j.LastError = reason
	return nil
}

// Retry resets a failed job to waiting for a new attempt.
func (j *ConversionJob) Retry() error {
	if err := j.TransitionTo(JobStatusWaiting); err != nil {
		return err
	}
	j.Progress = 0
	j.Attempt++
	j.LastError = ""
	j.StartedAt = nil
	j.CompletedAt = nil
	return nil
}

// SetProgress clamps and records a progress percentage.
func (j *ConversionJob) SetProgress(percent int) {
	switch {
	case percent < 0:
		percent = 0
	case percent > 100:
		percent = 100
	}
	j.Progress = percent
	j.UpdatedAt = time.Now()
}

// AggregateStatus folds the jobs of one asset into a single status.
// Any non-terminal job keeps the aggregate non-terminal; otherwise one
// success is enough for ready, and all failures make it failed.
func AggregateStatus(jobs []*ConversionJob) JobStatus {
	if len(jobs) == 0 {
		return ""
	}

	var processing, waiting, ready bool
	for _, j := range jobs {
		switch j.Status {
		case JobStatusProcessing:
			processing = true
		case JobStatusWaiting:
			waiting = true
		case JobStatusReady:
			ready = true
		}
	}

	switch {
	case processing:
		return JobStatusProcessing
	case waiting:
		return JobStatusWaiting
	case ready:
		return JobStatusReady
	default:
		return JobStatusFailed
	}
}
