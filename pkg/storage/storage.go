// Package storage uploads incident media to object storage.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// ObjectStore is the upload/public-URL contract used for case images.
type ObjectStore interface {
	Upload(ctx context.Context, path string, body io.Reader, size int64, contentType string) error
	PublicURL(path string) string
}

// ImagePath names an uploaded SOS photo: sos/<unix millis>-<uuid>.jpg. The
// random suffix keeps concurrent uploads in the same millisecond apart.
func ImagePath(now time.Time) string {
	return fmt.Sprintf("sos/%d-%s.jpg", now.UnixMilli(), uuid.NewString())
}
