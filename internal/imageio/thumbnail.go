package imageio

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/nfnt/resize"
)

const (
	DefaultThumbSize    = 128
	DefaultThumbQuality = 85
)

// Thumbnail returns a base64 JPEG of img bounded by maxSide×maxSide, keeping aspect ratio.
// img is left untouched.
func Thumbnail(img image.Image, maxSide int) (string, error) {
	if maxSide <= 0 {
		maxSide = DefaultThumbSize
	}
	thumb := resize.Thumbnail(uint(maxSide), uint(maxSide), img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: DefaultThumbQuality}); err != nil {
		return "", fmt.Errorf("encode thumbnail: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
