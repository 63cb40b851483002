package transcoder

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/hszk-dev/mediapool/internal/domain/model"
	"github.com/hszk-dev/mediapool/internal/domain/repository"
)

const (
	playlistName    = "playlist.m3u8"
	segmentPattern  = "segment_%05d.ts"
	stderrTailBytes = 4096
)

// FFmpegConfig holds configuration for the FFmpeg transcoder.
type FFmpegConfig struct {
	// FFmpegPath is the path to the ffmpeg binary.
	// If empty, "ffmpeg" will be used (assumes it's in PATH).
	FFmpegPath string

	// FFprobePath is the path to the ffprobe binary, used for source duration.
	FFprobePath string

	// VideoCodec is the default video codec.
	// Default: libx264
	VideoCodec string

	// VideoPreset controls the encoding speed/quality tradeoff.
	// Default: fast
	VideoPreset string

	// AudioCodec is the default audio codec.
	// Default: aac
	AudioCodec string

	// AudioBitrate is the default audio bitrate.
	// Default: 128k
	AudioBitrate string

	// SegmentDuration is the target duration of each HLS segment in seconds.
	// Default: 10
	SegmentDuration int

	// ThumbnailWidth is the width of generated previews in pixels.
	// Default: 320
	ThumbnailWidth int
}

// DefaultFFmpegConfig returns an FFmpegConfig with production-ready defaults.
func DefaultFFmpegConfig() FFmpegConfig {
	return FFmpegConfig{
		FFmpegPath:      "ffmpeg",
		FFprobePath:     "ffprobe",
		VideoCodec:      "libx264",
		VideoPreset:     "fast",
		AudioCodec:      "aac",
		AudioBitrate:    "128k",
		SegmentDuration: 10,
		ThumbnailWidth:  320,
	}
}

// FFmpegTranscoder implements Transcoder using the FFmpeg CLI.
type FFmpegTranscoder struct {
	config FFmpegConfig

	// command builds subprocesses; replaced in tests.
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// Compile-time verification that FFmpegTranscoder implements Transcoder.
var _ Transcoder = (*FFmpegTranscoder)(nil)

// NewFFmpegTranscoder creates a new FFmpeg-based transcoder.
// Zero fields of cfg fall back to DefaultFFmpegConfig.
func NewFFmpegTranscoder(cfg FFmpegConfig) *FFmpegTranscoder {
	def := DefaultFFmpegConfig()
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = def.FFmpegPath
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = def.FFprobePath
	}
	if cfg.VideoCodec == "" {
		cfg.VideoCodec = def.VideoCodec
	}
	if cfg.VideoPreset == "" {
		cfg.VideoPreset = def.VideoPreset
	}
	if cfg.AudioCodec == "" {
		cfg.AudioCodec = def.AudioCodec
	}
	if cfg.AudioBitrate == "" {
		cfg.AudioBitrate = def.AudioBitrate
	}
	if cfg.SegmentDuration <= 0 {
		cfg.SegmentDuration = def.SegmentDuration
	}
	if cfg.ThumbnailWidth <= 0 {
		cfg.ThumbnailWidth = def.ThumbnailWidth
	}
	return &FFmpegTranscoder{
		config:  cfg,
		command: exec.CommandContext,
	}
}

// Transcode runs ffmpeg for one resolution and reports progress from its
// -progress stream. Failures wrap repository.ErrConversionFailed and carry
// the tail of ffmpeg's stderr.
func (t *FFmpegTranscoder) Transcode(ctx context.Context, req Request, progress chan<- int) (*Output, error) {
	if err := t.validateInput(req.InputPath); err != nil {
		return nil, err
	}
	if err := t.validateOutputDir(req.OutputDir); err != nil {
		return nil, err
	}

	// Without a duration progress stays at 0 until completion.
	total, err := t.Probe(ctx, req.InputPath)
	if err != nil && ctx.Err() != nil {
		return nil, fmt.Errorf("transcoding cancelled: %w", ctx.Err())
	}

	playlistPath := filepath.Join(req.OutputDir, playlistName)
	args := t.buildArgs(req, playlistPath)

	cmd := t.command(ctx, t.config.FFmpegPath, args...)
	stderr := &tailBuffer{max: stderrTailBytes}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %w", repository.ErrConversionFailed, err)
	}

	readProgress(stdout, total, progress)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("transcoding cancelled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: ffmpeg execution failed: %v: %s",
			repository.ErrConversionFailed, err, strings.TrimSpace(stderr.String()))
	}

	segments, err := t.collectSegments(req.OutputDir, playlistPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", repository.ErrConversionFailed, err)
	}

	return &Output{
		PlaylistPath: playlistPath,
		Segments:     segments,
	}, nil
}

type ffprobeFormat struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe returns the source duration in seconds.
func (t *FFmpegTranscoder) Probe(ctx context.Context, inputPath string) (float64, error) {
	cmd := t.command(ctx, t.config.FFprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		inputPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	var probe ffprobeFormat
	if err := json.Unmarshal(out, &probe); err != nil {
		return 0, fmt.Errorf("parse ffprobe output: %w", err)
	}
	duration, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", probe.Format.Duration, err)
	}
	return duration, nil
}

// validateInput checks if the input file exists and is readable.
func (t *FFmpegTranscoder) validateInput(inputPath string) error {
	info, err := os.Stat(inputPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("input file does not exist: %s", inputPath)
		}
		return fmt.Errorf("failed to access input file: %w", err)
	}

	if info.IsDir() {
		return fmt.Errorf("input path is a directory, expected a file: %s", inputPath)
	}

	return nil
}

// validateOutputDir checks if the output directory exists.
func (t *FFmpegTranscoder) validateOutputDir(outputDir string) error {
	info, err := os.Stat(outputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("output directory does not exist: %s", outputDir)
		}
		return fmt.Errorf("failed to access output directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("output path is not a directory: %s", outputDir)
	}

	return nil
}

// encoderFlags are the extra options passed through to ffmpeg. Anything
// that names inputs or outputs, picks the muxer, or rewires streams stays
// under the transcoder's control.
var encoderFlags = map[string]bool{
	"crf":          true,
	"qp":           true,
	"tune":         true,
	"profile:v":    true,
	"level":        true,
	"pix_fmt":      true,
	"maxrate":      true,
	"minrate":      true,
	"bufsize":      true,
	"g":            true,
	"keyint_min":   true,
	"bf":           true,
	"refs":         true,
	"r":            true,
	"sc_threshold": true,
	"x264-params":  true,
	"x265-params":  true,
	"profile:a":    true,
	"ac":           true,
	"ar":           true,
}

// buildArgs constructs the ffmpeg arguments for one resolution.
func (t *FFmpegTranscoder) buildArgs(req Request, playlistPath string) []string {
	opts := req.Options
	videoCodec := firstNonEmpty(opts.VideoCodec, t.config.VideoCodec)
	preset := firstNonEmpty(opts.Preset, t.config.VideoPreset)
	audioCodec := firstNonEmpty(opts.AudioCodec, t.config.AudioCodec)
	audioBitrate := firstNonEmpty(opts.AudioBitrate, t.config.AudioBitrate)
	seg := t.config.SegmentDuration

	args := []string{
		"-hide_banner",
		"-nostats",
		"-progress", "pipe:1",
		"-i", req.InputPath,
		// -2 keeps the width even, as most codecs require
		"-vf", fmt.Sprintf("scale=-2:%d", req.Resolution.Height),
		"-c:v", videoCodec,
		"-preset", preset,
		"-b:v", strconv.Itoa(req.Resolution.Bitrate),
		"-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%d)", seg),
		"-c:a", audioCodec,
		"-b:a", audioBitrate,
	}

	keys := make([]string, 0, len(opts.Extra))
	for k := range opts.Extra {
		if encoderFlags[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-"+k, opts.Extra[k])
	}

	return append(args,
		"-f", "hls",
		"-hls_time", strconv.Itoa(seg),
		"-hls_list_size", "0", // Include all segments in playlist
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", filepath.Join(req.OutputDir, segmentPattern),
		"-y", // Overwrite output files without asking
		playlistPath,
	)
}

// collectSegments returns the segments in playlist order with their
// durations. If the playlist cannot be read, the .ts files are listed by
// name with the target duration.
func (t *FFmpegTranscoder) collectSegments(outputDir, playlistPath string) ([]Segment, error) {
	f, err := os.Open(playlistPath)
	if err == nil {
		defer func() { _ = f.Close() }()
		segments, perr := parsePlaylist(f, outputDir, float64(t.config.SegmentDuration))
		if perr == nil && len(segments) > 0 {
			return segments, nil
		}
	}

	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read output directory: %w", err)
	}

	var segments []Segment
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".ts") {
			continue
		}
		segments = append(segments, Segment{
			Path:     filepath.Join(outputDir, entry.Name()),
			Duration: float64(t.config.SegmentDuration),
		})
	}
	sort.Slice(segments, func(i, j int) bool { return segments[i].Path < segments[j].Path })

	if len(segments) == 0 {
		return nil, fmt.Errorf("no segments generated in output directory")
	}
	return segments, nil
}

// parsePlaylist reads EXTINF durations and segment URIs from a media playlist.
// A URI without a preceding EXTINF gets defaultDuration.
func parsePlaylist(r io.Reader, dir string, defaultDuration float64) ([]Segment, error) {
	var (
		segments []Segment
		pending  = -1.0
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case strings.HasPrefix(line, "#EXTINF:"):
			value := strings.TrimPrefix(line, "#EXTINF:")
			if i := strings.IndexByte(value, ','); i >= 0 {
				value = value[:i]
			}
			if d, err := strconv.ParseFloat(value, 64); err == nil && d > 0 {
				pending = d
			}
		case strings.HasPrefix(line, "#"):
		default:
			duration := defaultDuration
			if pending > 0 {
				duration = pending
			}
			segments = append(segments, Segment{
				Path:     filepath.Join(dir, filepath.Base(line)),
				Duration: duration,
			})
			pending = -1
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read playlist: %w", err)
	}
	return segments, nil
}

// readProgress consumes ffmpeg's -progress key=value stream until EOF.
func readProgress(r io.Reader, totalSeconds float64, progress chan<- int) {
	last := -1
	report := func(p int) {
		if p == last || progress == nil {
			return
		}
		select {
		case progress <- p:
			last = p
		default:
		}
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		// out_time_ms is also microseconds, despite the name.
		case "out_time_us", "out_time_ms":
			if totalSeconds <= 0 {
				continue
			}
			us, err := strconv.ParseInt(value, 10, 64)
			if err != nil || us < 0 {
				continue
			}
			p := int(float64(us) / 1e6 / totalSeconds * 100)
			if p > 99 {
				p = 99
			}
			report(p)
		case "progress":
			if value == "end" {
				report(100)
			}
		}
	}
	// Drain so ffmpeg never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, r)
}

// Thumbnail renders a preview. Videos use an ffmpeg frame grab, images are
// decoded and resized in process.
func (t *FFmpegTranscoder) Thumbnail(ctx context.Context, category model.Category, inputPath, outputPath string) error {
	if err := t.validateInput(inputPath); err != nil {
		return err
	}
	switch category {
	case model.CategoryVideo:
		return t.videoThumbnail(ctx, inputPath, outputPath)
	case model.CategoryImage:
		return ImageThumbnail(inputPath, outputPath, t.config.ThumbnailWidth)
	default:
		return fmt.Errorf("no thumbnail for category %q", category)
	}
}

// videoThumbnail grabs one frame one second in, falling back to the first
// frame for clips shorter than that.
func (t *FFmpegTranscoder) videoThumbnail(ctx context.Context, inputPath, outputPath string) error {
	var lastErr error
	for _, offset := range []string{"1", "0"} {
		stderr := &tailBuffer{max: stderrTailBytes}
		cmd := t.command(ctx, t.config.FFmpegPath,
			"-hide_banner",
			"-ss", offset,
			"-i", inputPath,
			"-frames:v", "1",
			"-vf", fmt.Sprintf("scale=%d:-2", t.config.ThumbnailWidth),
			"-y",
			outputPath,
		)
		cmd.Stderr = stderr

		err := cmd.Run()
		if err == nil {
			if info, statErr := os.Stat(outputPath); statErr == nil && info.Size() > 0 {
				return nil
			}
			err = fmt.Errorf("no frame written")
		}
		if ctx.Err() != nil {
			return fmt.Errorf("thumbnail cancelled: %w", ctx.Err())
		}
		lastErr = fmt.Errorf("ffmpeg frame grab at %ss: %v: %s", offset, err, strings.TrimSpace(stderr.String()))
	}
	return lastErr
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return string(b.buf)
}
