// Package ipfs pins rendered certificate artifacts to IPFS through the Pinata API.
package ipfs

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"
)

// Metadata is attached to a pin as Pinata keyvalues.
type Metadata map[string]string

// UploadResult describes a pinned object.
type UploadResult struct {
	ContentID  string
	SizeBytes  int64
	GatewayURL string
	Timestamp  time.Time
}

// Uploader is the content-addressed store contract used by verification.
// Unpin releases a pin whose content id could not be recorded.
type Uploader interface {
	Upload(ctx context.Context, data []byte, name string, meta Metadata) (UploadResult, error)
	Unpin(ctx context.Context, contentID string) error
}

// UploadError reports a failed pin. Reason is safe to persist on the record.
type UploadError struct {
	Name       string
	StatusCode int
	Reason     string
	Err        error
}

func (e *UploadError) Error() string {
	switch {
	case e.StatusCode > 0:
		return fmt.Sprintf("ipfs upload %s failed (status %d): %s", e.Name, e.StatusCode, e.Reason)
	default:
		return fmt.Sprintf("ipfs upload %s failed: %s", e.Name, e.Reason)
	}
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

var contentTypes = map[string]string{
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".txt":  "text/plain",
	".json": "application/json",
	".html": "text/html",
}

// ContentTypeFor maps a file name to the content type sent with the multipart file part.
func ContentTypeFor(name string) string {
	if ct, ok := contentTypes[strings.ToLower(path.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}
