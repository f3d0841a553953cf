package composer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	domain "github.com/example/ephemeral-chat/domain/chat"
	"github.com/gofiber/fiber/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultImgBBEndpoint is the ImgBB upload API.
const DefaultImgBBEndpoint = "https://api.imgbb.com/1/upload"

// Host stores an image and returns its public URL.
type Host interface {
	Upload(ctx context.Context, img *Image) (string, error)
}

// ImgBB uploads images to ImgBB. Concurrent uploads of the same bytes
// share one request.
type ImgBB struct {
	endpoint string
	apiKey   string
	timeout  time.Duration
	group    singleflight.Group
}

// NewImgBB creates an ImgBB host for apiKey.
func NewImgBB(apiKey string) *ImgBB {
	return &ImgBB{
		endpoint: DefaultImgBBEndpoint,
		apiKey:   apiKey,
		timeout:  30 * time.Second,
	}
}

type imgbbResponse struct {
	Success bool `json:"success"`
	Status  int  `json:"status"`
	Data    struct {
		URL        string `json:"url"`
		DisplayURL string `json:"display_url"`
	} `json:"data"`
}

// Upload posts the image as a base64 form field and returns data.url. It
// gives up as soon as ctx is done.
func (h *ImgBB) Upload(ctx context.Context, img *Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	timeout := h.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	sum := sha256.Sum256(img.Data)
	ch := h.group.DoChan(hex.EncodeToString(sum[:]), func() (any, error) {
		return h.upload(img, timeout)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (h *ImgBB) upload(img *Image, timeout time.Duration) (string, error) {
	agent := fiber.Post(h.endpoint + "?key=" + url.QueryEscape(h.apiKey))
	agent.Timeout(timeout)

	args := fiber.AcquireArgs()
	defer fiber.ReleaseArgs(args)
	args.Set("image", img.Base64())
	if name := strings.TrimSuffix(img.Name, filepath.Ext(img.Name)); name != "" {
		args.Set("name", name)
	}
	agent.MultipartForm(args)

	var resp imgbbResponse
	code, _, errs := agent.Struct(&resp)
	if len(errs) > 0 {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, errs[0])
	}
	if code != fiber.StatusOK || !resp.Success || resp.Data.URL == "" {
		return "", fmt.Errorf("%w: status %d", ErrUploadFailed, code)
	}
	return resp.Data.URL, nil
}

// Uploader turns an ingested image into a message attachment.
type Uploader struct {
	host Host
}

// NewUploader creates an Uploader. With a nil host every image is inlined.
func NewUploader(host Host) *Uploader {
	return &Uploader{host: host}
}

// Attach uploads img to the host, falling back to an inline data URL when
// no host is configured or the upload fails.
func (u *Uploader) Attach(ctx context.Context, img *Image) domain.Attachment {
	att := domain.Attachment{Type: domain.FileTypeImage, Name: img.Name}

	if u.host != nil {
		hosted, err := u.host.Upload(ctx, img)
		if err == nil {
			att.URL = hosted
			return att
		}
		slog.Warn("Image host upload failed, inlining image", "name", img.Name, "error", err)
	}

	att.URL = img.DataURL()
	return att
}
