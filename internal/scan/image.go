package scan

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

const (
	DefaultMaxEdge = 1600
	jpegQuality    = 85
)

// Downscale decodes an uploaded image, applies its EXIF orientation and
// shrinks it so neither side exceeds maxEdge. The result is always JPEG.
func Downscale(data []byte, maxEdge int) ([]byte, string, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	b := img.Bounds()
	if b.Dx() > maxEdge || b.Dy() > maxEdge {
		img = imaging.Fit(img, maxEdge, maxEdge, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, "", fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), "image/jpeg", nil
}
