package pipeline

import (
	"context"
	"fmt"
	"os"

	"github.com/harunnryd/turjumaad/pkg/errorsx"
)

// fetchTo downloads the request audio into an already acquired scratch file.
func fetchTo(ctx context.Context, src AudioSource, path string) (err error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("open scratch file: %w", err), errorsx.ReasonAcquire)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errorsx.Wrap(fmt.Errorf("close scratch file: %w", cerr), errorsx.ReasonAudioFetch)
		}
	}()
	if err := src.Fetch(ctx, f); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errorsx.Wrap(fmt.Errorf("fetch audio: %w", err), errorsx.ReasonAudioFetch)
	}
	return nil
}
