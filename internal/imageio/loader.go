package imageio

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/Brownie44l1/fish-api/internal/apperror"
)

const (
	DefaultFetchTimeout  = 10 * time.Second
	DefaultMaxFetchBytes = 20 << 20
	// DefaultMaxImagePixels matches Pillow's decompression bomb warning limit.
	DefaultMaxImagePixels = 89478485
)

// Decoded is an input image normalized to opaque RGB.
type Decoded struct {
	Image  *image.RGBA
	Format string
}

func (d *Decoded) Width() int  { return d.Image.Bounds().Dx() }
func (d *Decoded) Height() int { return d.Image.Bounds().Dy() }

// Loader acquires images from remote URLs or inline base64 payloads.
type Loader struct {
	client    *http.Client
	maxBytes  int64
	maxPixels int64
}

func NewLoader(timeout time.Duration, maxBytes int64) *Loader {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFetchBytes
	}
	return &Loader{
		client:    &http.Client{Timeout: timeout},
		maxBytes:  maxBytes,
		maxPixels: DefaultMaxImagePixels,
	}
}

// WithMaxPixels caps width*height of accepted images. Non-positive values keep the default.
func (l *Loader) WithMaxPixels(n int64) *Loader {
	if n > 0 {
		l.maxPixels = n
	}
	return l
}

// FromURL downloads the image at url. Network failures, timeouts and
// non-2xx responses are reported as fetch errors.
func (l *Loader) FromURL(ctx context.Context, url string) (*Decoded, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindFetch, err, "invalid image url")
	}
	req.Header.Set("Accept", "image/*")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindFetch, err, "could not fetch image")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperror.Newf(apperror.KindFetch, "could not fetch image: upstream returned %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, l.maxBytes+1))
	if err != nil {
		return nil, apperror.Wrap(apperror.KindFetch, err, "could not read image body")
	}
	if int64(len(data)) > l.maxBytes {
		return nil, apperror.Newf(apperror.KindFetch, "image exceeds %d bytes", l.maxBytes)
	}

	return Decode(data, l.maxPixels)
}

// FromBase64 decodes an inline payload, with or without a data URI prefix.
func (l *Loader) FromBase64(payload string) (*Decoded, error) {
	data, err := DecodeBase64(payload)
	if err != nil {
		return nil, err
	}
	return Decode(data, l.maxPixels)
}

// StripDataURI removes a leading "data:image/...;base64," prefix. Like the
// original client contract, everything up to the last comma is dropped.
func StripDataURI(payload string) string {
	s := strings.TrimSpace(payload)
	if i := strings.LastIndex(s, ","); i != -1 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}

// NormalizeBase64 returns payload as it is fed to the base64 decoder: data URI
// prefix removed and embedded whitespace dropped.
func NormalizeBase64(payload string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, StripDataURI(payload))
}

func DecodeBase64(payload string) ([]byte, error) {
	s := NormalizeBase64(payload)

	if s == "" {
		return nil, apperror.New(apperror.KindDecode, "image_base64 is empty")
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindDecode, err, "image_base64 is not valid base64")
	}
	if len(data) == 0 {
		return nil, apperror.New(apperror.KindDecode, "image_base64 decodes to nothing")
	}
	return data, nil
}

// Decode parses image bytes with the registered codecs and converts the result to RGB.
// The header is checked first: images above maxPixels are rejected before any
// pixel buffer is allocated. maxPixels <= 0 disables the check.
func Decode(data []byte, maxPixels int64) (*Decoded, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, apperror.Wrap(apperror.KindUnsupportedFormat, err, "cannot identify image file")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, apperror.Newf(apperror.KindUnsupportedFormat, "image has empty bounds %dx%d", cfg.Width, cfg.Height)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); maxPixels > 0 && pixels > maxPixels {
		return nil, apperror.Newf(apperror.KindUnsupportedFormat,
			"image is %dx%d (%d pixels), limit is %d pixels", cfg.Width, cfg.Height, pixels, maxPixels)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperror.Wrap(apperror.KindUnsupportedFormat, err, "cannot identify image file")
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, apperror.Newf(apperror.KindUnsupportedFormat, "image has empty bounds %dx%d", b.Dx(), b.Dy())
	}
	return &Decoded{Image: ToRGB(img), Format: format}, nil
}

// ToRGB copies img into an opaque RGBA bitmap anchored at (0,0).
// Alpha is dropped rather than composited, and gray sources expand to three equal channels.
func ToRGB(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	switch src := img.(type) {
	case *image.Gray:
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				v := src.GrayAt(b.Min.X+x, b.Min.Y+y).Y
				out.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 0xff})
			}
		}
	case *image.YCbCr:
		draw.Draw(out, out.Bounds(), src, b.Min, draw.Src)
	default:
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
				out.SetRGBA(x, y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff})
			}
		}
	}
	return out
}
