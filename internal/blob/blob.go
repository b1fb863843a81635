// Package blob uploads synthesized audio and returns a public locator.
package blob

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Store writes an object and returns the URL clients fetch it from.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// NewAudioKey returns a fresh object key under audio/ with extension ext.
func NewAudioKey(ext string) string {
	return fmt.Sprintf("audio/%s.%s", uuid.NewString(), ext)
}
