// Package scratch manages the temporary audio files of one request.
package scratch

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/turjumaad/pkg/errorsx"
	"github.com/harunnryd/turjumaad/pkg/logging"
)

// FilePrefix starts the name of every scratch file so a sweep can find leftovers.
const FilePrefix = "turjumaad-"

// Store hands out uniquely named scratch files for a single request and
// deletes all of them on ReleaseAll. A Store is not shared between requests.
type Store struct {
	dir   string
	owner string
	log   *slog.Logger

	mu       sync.Mutex
	paths    []string
	acquired int
	released int
}

func NewStore(dir, owner string) *Store {
	if strings.TrimSpace(dir) == "" {
		dir = os.TempDir()
	}
	return &Store{
		dir:   dir,
		owner: sanitize(owner),
		log:   logging.NewComponentLogger(slog.Default(), "scratch"),
	}
}

// Acquire creates an empty file ending in suffix and registers it for cleanup.
func (s *Store) Acquire(suffix string) (string, error) {
	if suffix != "" && !strings.HasPrefix(suffix, ".") {
		suffix = "." + suffix
	}
	pattern := FilePrefix + s.owner + "-*" + sanitize(suffix)
	f, err := os.CreateTemp(s.dir, pattern)
	if err != nil {
		return "", errorsx.Wrap(fmt.Errorf("create scratch file: %w", err), errorsx.ReasonAcquire)
	}
	path := f.Name()
	// Register before Close so a failing Close still leaves the file tracked.
	s.mu.Lock()
	s.paths = append(s.paths, path)
	s.acquired++
	s.mu.Unlock()
	if err := f.Close(); err != nil {
		return "", errorsx.Wrap(fmt.Errorf("close scratch file: %w", err), errorsx.ReasonAcquire)
	}
	return path, nil
}

// ReleaseAll removes every file acquired so far. Failures are logged and
// swallowed; a file that is already gone counts as released.
func (s *Store) ReleaseAll() {
	s.mu.Lock()
	paths := s.paths
	s.paths = nil
	s.mu.Unlock()

	for _, path := range paths {
		err := os.Remove(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("scratch_release_failed", "path", path, "error", err)
		}
		s.mu.Lock()
		s.released++
		s.mu.Unlock()
	}
}

// Counts reports how many files were acquired and released.
func (s *Store) Counts() (acquired, released int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired, s.released
}

// Sweep deletes scratch files in dir older than maxAge, left behind by a
// process that died mid-request.
func Sweep(dir string, maxAge time.Duration) (int, error) {
	if strings.TrimSpace(dir) == "" {
		dir = os.TempDir()
	}
	if maxAge <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	var removed int
	var errs error
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), FilePrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		removed++
	}
	return removed, errs
}

func sanitize(v string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return -1
		}
	}, v)
}
