package transcoder

import (
	"fmt"

	"github.com/disintegration/imaging"
	"github.com/google/renameio/v2"
)

// ImageThumbnail writes a JPEG preview of an image, width pixels wide with
// the aspect ratio kept. Images narrower than width are not upscaled.
func ImageThumbnail(inputPath, outputPath string, width int) error {
	img, err := imaging.Open(inputPath, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("decode image: %w", err)
	}

	if img.Bounds().Dx() > width {
		img = imaging.Resize(img, width, 0, imaging.Lanczos)
	}

	pending, err := renameio.NewPendingFile(outputPath, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending thumbnail: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if err := imaging.Encode(pending, img, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		return fmt.Errorf("encode thumbnail: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("commit thumbnail: %w", err)
	}
	return nil
}
