package usecase

import "errors"

var (
	// ErrAssetNotReady is returned when an asset has no primary blob yet.
	ErrAssetNotReady = errors.New("asset content is not stored yet")

	// ErrNotVideo is returned when conversion is requested for a non-video asset.
	ErrNotVideo = errors.New("asset is not a video")

	// ErrNoResolutions is returned when a conversion request names no resolution.
	ErrNoResolutions = errors.New("at least one resolution is required")

	// ErrJobNotRetryable is returned when retrying a job that has not failed.
	ErrJobNotRetryable = errors.New("only failed jobs can be retried")

	// ErrUploadClosed is returned when an upload was already completed or abandoned.
	ErrUploadClosed = errors.New("upload is closed")
)
