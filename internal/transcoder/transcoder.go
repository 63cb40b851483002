// Package transcoder wraps the external encoder used to turn source videos
// into HLS segment sets and to render preview thumbnails.
package transcoder

import (
	"context"

	"github.com/hszk-dev/mediapool/internal/domain/model"
)

// Request describes one resolution encode.
type Request struct {
	// InputPath is the local copy of the source video.
	InputPath string
	// OutputDir receives the playlist and segment files. It must exist.
	OutputDir  string
	Resolution model.Resolution
	// Options override the transcoder defaults for this job.
	Options model.EncodeOptions
}

// Segment is one generated segment file.
type Segment struct {
	Path string
	// Duration in seconds, taken from the playlist the encoder wrote.
	Duration float64
}

// Output is the result of one resolution encode.
type Output struct {
	// PlaylistPath is the encoder's own playlist, kept for timing data only.
	PlaylistPath string
	// Segments are listed in emission order.
	Segments []Segment
}

// Transcoder defines the interface for media conversion operations.
type Transcoder interface {
	// Transcode encodes the input at one resolution as HLS segments.
	//
	// Progress percentages (0-100) are offered on progress without blocking;
	// values are dropped while the receiver is busy. progress may be nil and
	// is never closed by Transcode.
	Transcode(ctx context.Context, req Request, progress chan<- int) (*Output, error)

	// Thumbnail renders a JPEG preview of a video or image asset.
	Thumbnail(ctx context.Context, category model.Category, inputPath, outputPath string) error
}
