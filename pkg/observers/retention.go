package observers

import (
	"errors"
	"os"
	"path/filepath"
	"time"
)

// PurgeTimelines deletes request timelines (*.jsonl) in dir that were last
// written more than retentionDays ago. A missing dir is not an error.
func PurgeTimelines(dir string, retentionDays int, now time.Time) (removed []string, err error) {
	if dir == "" || retentionDays <= 0 {
		return nil, nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil {
		return nil, err
	}
	cutoff := now.AddDate(0, 0, -retentionDays)
	for _, path := range matches {
		info, serr := os.Stat(path)
		switch {
		case errors.Is(serr, os.ErrNotExist):
			continue
		case serr != nil:
			err = errors.Join(err, serr)
			continue
		case info.IsDir() || info.ModTime().After(cutoff):
			continue
		}
		if rerr := os.Remove(path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			err = errors.Join(err, rerr)
			continue
		}
		removed = append(removed, filepath.Base(path))
	}
	return removed, err
}
