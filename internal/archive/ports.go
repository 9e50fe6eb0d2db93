package archive

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDuplicateEntry = errors.New("duplicate archive entry")
	ErrClosed         = errors.New("archive already finalized or discarded")
	ErrEmptyName      = errors.New("archive entry name is empty")
)

// DownloadName is the file name offered to the client.
const DownloadName = "converted_images.zip"

// Publisher hands a finished archive to external storage and returns a short-lived link.
type Publisher interface {
	Publish(ctx context.Context, key string, b *Bundle) (url string, expiresAt time.Time, err error)
}
