package composer

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// MaxImageSize is the largest accepted image, in bytes.
const MaxImageSize = 5 * 1024 * 1024

// Image is a validated image ready for upload or inlining.
type Image struct {
	Name        string
	ContentType string
	Data        []byte
	Width       int
	Height      int
}

// Ingest validates an uploaded image. contentType may be empty, in which
// case it is sniffed from the data and the file extension.
func Ingest(name, contentType string, data []byte) (*Image, error) {
	if len(data) > MaxImageSize {
		return nil, ErrImageTooLarge
	}
	if len(data) == 0 {
		return nil, ErrInvalidImage
	}

	ct := normalizeContentType(contentType)
	if ct == "" || ct == "application/octet-stream" {
		ct = normalizeContentType(mime.TypeByExtension(strings.ToLower(filepath.Ext(name))))
	}
	if ct == "" {
		ct = normalizeContentType(http.DetectContentType(data))
	}
	if !strings.HasPrefix(ct, "image/") {
		return nil, ErrNotAnImage
	}

	img := &Image{
		Name:        filepath.Base(name),
		ContentType: ct,
		Data:        data,
	}

	// Formats without a registered decoder (webp, svg) pass on content type.
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	switch {
	case err == nil:
		img.Width, img.Height = cfg.Width, cfg.Height
	case errors.Is(err, image.ErrFormat) && !decodable[ct]:
	default:
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return img, nil
}

var decodable = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
}

func normalizeContentType(ct string) string {
	if ct == "" {
		return ""
	}
	media, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return ""
	}
	return strings.ToLower(media)
}

// Base64 returns the standard base64 encoding of the image.
func (i *Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// DataURL returns the image inlined as a data URL.
func (i *Image) DataURL() string {
	return "data:" + i.ContentType + ";base64," + i.Base64()
}
