// Package retention bounds the disk footprint of the managed directories.
package retention

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/spf13/afero"

	"github.com/slok/transcribeq/internal/log"
	"github.com/slok/transcribeq/internal/metrics"
)

const (
	// DefaultMaxFiles is the default maximum number of files kept on a directory.
	DefaultMaxFiles = 10
	// DefaultMaxBytes is the default maximum aggregated size of a directory.
	DefaultMaxBytes int64 = 100_000_000
)

// Limits are the ceilings applied to a directory.
type Limits struct {
	MaxFiles int
	MaxBytes int64
}

// StewardConfig is the configuration for the steward.
type StewardConfig struct {
	// FS is the filesystem the steward manages, by default the OS one.
	FS              afero.Fs
	Limits          Limits
	MetricsRecorder metrics.Recorder
	Logger          log.Logger
}

func (c *StewardConfig) defaults() error {
	if c.FS == nil {
		c.FS = afero.NewOsFs()
	}
	if c.Limits.MaxFiles == 0 {
		c.Limits.MaxFiles = DefaultMaxFiles
	}
	if c.Limits.MaxBytes == 0 {
		c.Limits.MaxBytes = DefaultMaxBytes
	}
	if c.Limits.MaxFiles < 0 || c.Limits.MaxBytes < 0 {
		return fmt.Errorf("limits can't be negative")
	}
	if c.MetricsRecorder == nil {
		c.MetricsRecorder = metrics.Noop
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "retention.Steward"})
	return nil
}

// Report describes the result of a trim.
type Report struct {
	Removed []string
	// Files and Bytes are the directory totals after the trim.
	Files int
	Bytes int64
}

// Steward enforces the retention limits over directories, deleting the oldest files
// (by modification time) first.
type Steward struct {
	fs      afero.Fs
	limits  Limits
	metrics metrics.Recorder
	logger  log.Logger
	mu      sync.Mutex
}

// NewSteward returns a new steward.
func NewSteward(cfg StewardConfig) (*Steward, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Steward{
		fs:      cfg.FS,
		limits:  cfg.Limits,
		metrics: cfg.MetricsRecorder,
		logger:  cfg.Logger,
	}, nil
}

// Limits returns the limits the steward applies.
func (s *Steward) Limits() Limits { return s.limits }

// Trim applies the file count and the aggregated size ceilings to dir. Both checks
// run on every call. Errors are logged and reported with a false result, never returned.
func (s *Steward) Trim(ctx context.Context, dir string) (Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger := s.logger.WithValues(log.Kv{"dir": dir})

	report, err := s.trim(dir)
	if len(report.Removed) > 0 {
		s.metrics.AddTrimmedFiles(ctx, filepath.Base(dir), len(report.Removed))
		logger.Debugf("Removed %d files", len(report.Removed))
	}
	if err != nil {
		switch {
		case errors.Is(err, os.ErrNotExist):
			logger.Errorf("Directory not found: %s", err)
		case errors.Is(err, os.ErrPermission):
			logger.Errorf("Permission denied: %s", err)
		default:
			logger.Errorf("Unexpected error trimming directory: %s", err)
		}
		return report, false
	}

	return report, true
}

func (s *Steward) trim(dir string) (Report, error) {
	infos, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		return Report{}, fmt.Errorf("could not read directory: %w", err)
	}

	files := make([]os.FileInfo, 0, len(infos))
	var total int64
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		files = append(files, info)
		total += info.Size()
	}

	// Oldest first.
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].ModTime().Equal(files[j].ModTime()) {
			return files[i].Name() < files[j].Name()
		}
		return files[i].ModTime().Before(files[j].ModTime())
	})

	report := Report{}
	remove := func(f os.FileInfo) error {
		path := filepath.Join(dir, f.Name())
		err := s.fs.Remove(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("could not remove %s: %w", path, err)
		}
		report.Removed = append(report.Removed, path)
		total -= f.Size()
		return nil
	}

	if extra := len(files) - s.limits.MaxFiles; extra > 0 {
		for _, f := range files[:extra] {
			if err := remove(f); err != nil {
				return s.totals(report, files, total), err
			}
		}
		files = files[extra:]
	}

	for total > s.limits.MaxBytes && len(files) > 0 {
		if err := remove(files[0]); err != nil {
			return s.totals(report, files, total), err
		}
		files = files[1:]
	}

	return s.totals(report, files, total), nil
}

func (s *Steward) totals(r Report, files []os.FileInfo, total int64) Report {
	r.Files = len(files)
	r.Bytes = total
	return r
}
