package repository

import "errors"

// Lookup errors.
var (
	// ErrAssetNotFound is returned when an asset cannot be found.
	ErrAssetNotFound = errors.New("asset not found")

	// ErrDuplicateAsset is returned when an asset identifier is already taken.
	ErrDuplicateAsset = errors.New("asset already exists")

	// ErrAlreadyStored is returned when an asset already has a primary blob.
	ErrAlreadyStored = errors.New("asset already stored")

	// ErrSegmentNotFound is returned when a segment cannot be found.
	ErrSegmentNotFound = errors.New("segment not found")

	// ErrJobNotFound is returned when a conversion job cannot be found.
	ErrJobNotFound = errors.New("conversion job not found")

	// ErrJobNotClaimable is returned when a job is no longer waiting for the given attempt.
	ErrJobNotClaimable = errors.New("conversion job not claimable")

	// ErrAccountNotFound is returned when a storage account is unknown.
	ErrAccountNotFound = errors.New("storage account not found")

	// ErrUploadNotFound is returned when an upload has no scratch state.
	ErrUploadNotFound = errors.New("upload not found")
)

// Provider errors.
var (
	// ErrBucketNotFound is returned when an account's bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrObjectNotFound is returned by a provider when a key does not exist.
	ErrObjectNotFound = errors.New("object not found")

	// ErrRateLimited marks a provider response asking the caller to slow down.
	ErrRateLimited = errors.New("provider rate limited")
)

// Pool and pipeline errors surfaced to callers.
var (
	// ErrPoolExhausted is returned when no account clears the reserve margin.
	ErrPoolExhausted = errors.New("storage pool exhausted")

	// ErrUploadFailed is returned when a blob could not be stored after retries.
	ErrUploadFailed = errors.New("upload failed")

	// ErrDownloadFailed is returned when a blob could not be fetched after retries.
	ErrDownloadFailed = errors.New("download failed")

	// ErrBlobNotFound is returned when no active account resolves a remote id.
	ErrBlobNotFound = errors.New("blob not found")

	// ErrAccountUnavailable is returned when a selected account vanished from the registry.
	ErrAccountUnavailable = errors.New("storage account unavailable")

	// ErrIncompleteUpload is returned when chunks are missing at completion.
	ErrIncompleteUpload = errors.New("incomplete upload")

	// ErrChunkChecksum is returned when chunk bytes do not match the client's digest.
	ErrChunkChecksum = errors.New("chunk checksum mismatch")

	// ErrConversionFailed is returned when the transcoding engine fails.
	ErrConversionFailed = errors.New("conversion failed")

	// ErrNoSegments is returned when a manifest is requested before any conversion is ready.
	ErrNoSegments = errors.New("no segments")
)
