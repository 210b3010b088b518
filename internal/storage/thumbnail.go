package storage

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // registers the webp decoder
)

// Thumbnailer derives a bounded PNG preview from original image bytes
type Thumbnailer interface {
	Thumbnail(src []byte, box int) ([]byte, error)
}

// ImagingThumbnailer fits the image inside a box×box square, preserving
// aspect ratio and never upscaling.
type ImagingThumbnailer struct{}

func (ImagingThumbnailer) Thumbnail(src []byte, box int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	thumb := imaging.Fit(img, box, box, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
