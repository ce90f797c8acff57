package audiostore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when no artifact exists for a key.
var ErrNotFound = errors.New("audio not found")

type AudioStore interface {
	Save(ctx context.Context, prefix string, r io.Reader) (storageKey string, err error)
	Open(ctx context.Context, storageKey string) (io.ReadCloser, error)
	Delete(ctx context.Context, storageKey string) error
}
