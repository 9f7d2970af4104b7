package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kbukum/polysome/resilience"
)

// mirrorRetry governs each file upload in MirrorDir.
var mirrorRetry = resilience.DefaultRetryConfig()

// MirrorFile uploads the local file at src to dst under key.
func MirrorFile(ctx context.Context, dst Storage, src, key string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("storage: open %s: %w", src, err)
	}
	defer f.Close() //nolint:errcheck // read-only

	if err := dst.Upload(ctx, key, f); err != nil {
		return fmt.Errorf("storage: mirror %s: %w", src, err)
	}
	return nil
}

// MirrorDir uploads every regular file under root to dst, keyed by the
// slash-separated path relative to root joined onto prefix. Each upload is
// retried with backoff. It returns the keys written, in walk order.
func MirrorDir(ctx context.Context, dst Storage, root, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if prefix != "" {
			key = prefix + "/" + key
		}
		err = resilience.RetryFunc(ctx, mirrorRetry, func() error {
			return MirrorFile(ctx, dst, p, key)
		})
		if err != nil {
			return err
		}
		keys = append(keys, key)
		return nil
	})
	return keys, err
}
