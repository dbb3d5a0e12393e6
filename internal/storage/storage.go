package storage

import (
	"context"
	"io"
)

// PutOptions conveys upload destination metadata.
type PutOptions struct {
	Bucket      string
	ContentType string
}

// Service writes objects to remote object storage.
type Service interface {
	Put(ctx context.Context, key string, body io.Reader, opts PutOptions) (string, error)
}
