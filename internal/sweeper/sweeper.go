// Package sweeper periodically removes stale temp uploads and certificates.
package sweeper

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the sweep every 15 minutes.
const DefaultSchedule = "*/15 * * * *"

// Sweeper deletes regular files older than Retention from its directories.
type Sweeper struct {
	dirs      []string
	retention time.Duration
	now       func() time.Time
	cron      *cron.Cron
}

// New returns a Sweeper for dirs. Nothing is scheduled until Start.
func New(retention time.Duration, dirs ...string) *Sweeper {
	return &Sweeper{
		dirs:      dirs,
		retention: retention,
		now:       time.Now,
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
	}
}

// Start schedules the sweep. An empty schedule means DefaultSchedule.
func (s *Sweeper) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.Sweep() }); err != nil {
		return fmt.Errorf("schedule sweep %q: %w", schedule, err)
	}
	slog.Info("sweeper started", "schedule", schedule, "retention", s.retention, "dirs", s.dirs)
	s.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep removes expired files once and returns how many were deleted.
func (s *Sweeper) Sweep() int {
	cutoff := s.now().Add(-s.retention)
	removed := 0
	for _, dir := range s.dirs {
		entries, err := os.ReadDir(dir)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			slog.Warn("sweeper: read dir", "dir", dir, "error", err)
			continue
		}
		for _, e := range entries {
			if !e.Type().IsRegular() {
				continue
			}
			info, err := e.Info()
			if err != nil || !info.ModTime().Before(cutoff) {
				continue
			}
			path := filepath.Join(dir, e.Name())
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				slog.Warn("sweeper: remove", "path", path, "error", err)
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		slog.Info("sweeper removed stale files", "count", removed)
	}
	return removed
}
