// Package photos stores downloaded profile photos keyed by directory page id
// and downloads the photos of consenting staff into a Store.
package photos

import (
	"context"
	"fmt"
	"strings"

	"github.com/mscno/staffsync/pkg/apperrors"
)

// ErrNotFound is returned by Store.Get when no photo is stored under a key.
var ErrNotFound = fmt.Errorf("photo %w", apperrors.ErrNotFound)

// Store holds photo bytes under a page id.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Close() error
}

// FileName is the name a photo is stored under in file-like backends.
func FileName(key string) string {
	return key + ".jpg"
}

func checkKey(key string) error {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return fmt.Errorf("invalid photo key %q", key)
	}
	return nil
}
