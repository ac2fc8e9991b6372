package services

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/klubbkiosk/kiosk-backend/v1/locks"
)

// SyncScheduler is the single elected background loop that keeps the
// member mirror fresh and drains pending exports. Every kiosk worker
// process constructs one, but only the process holding the election lock
// runs the loop; the others serve HTTP traffic only.
type SyncScheduler struct {
	members      *MemberService
	exporter     *ExportService
	electionLock *locks.FileLock

	gracePeriod time.Duration
	interval    time.Duration
}

// NewSyncScheduler creates a new background sync scheduler
func NewSyncScheduler(members *MemberService, exporter *ExportService, electionLock *locks.FileLock) *SyncScheduler {
	return &SyncScheduler{
		members:      members,
		exporter:     exporter,
		electionLock: electionLock,
		gracePeriod:  10 * time.Second,
		interval:     10 * time.Minute,
	}
}

// TryElect attempts to claim the scheduler role for this process. The
// lock is held until the process exits; losing the election is the
// normal outcome for all but one worker.
func (s *SyncScheduler) TryElect() (bool, error) {
	acquired, err := s.electionLock.TryAcquire()
	if err != nil {
		return false, err
	}
	if !acquired {
		slog.Info("Background sync already claimed by another worker", "lock", s.electionLock.Path())
		return false, nil
	}
	slog.Info("Claimed background sync role", "pid", os.Getpid(), "lock", s.electionLock.Path())
	return true, nil
}

// Start runs the sync loop until ctx is cancelled. Call only after a
// successful TryElect.
func (s *SyncScheduler) Start(ctx context.Context) {
	slog.Info("Background scheduler started", "interval", s.interval, "gracePeriod", s.gracePeriod)

	// Grace period so several worker processes booting at once settle
	// before the first sync hits the spreadsheet.
	select {
	case <-ctx.Done():
		return
	case <-time.After(s.gracePeriod):
	}

	for {
		s.runOnce(ctx)

		select {
		case <-ctx.Done():
			slog.Info("Background scheduler stopped")
			return
		case <-time.After(s.interval):
		}
	}
}

// runOnce performs one sync-then-export iteration. Errors are logged and
// swallowed; a failed iteration must never end the loop.
func (s *SyncScheduler) runOnce(ctx context.Context) {
	slog.Info("Background sync starting")

	if _, err := s.members.ImportMembers(ctx); err != nil {
		slog.Error("Member import failed", "error", err)
	}

	if rows, err := s.exporter.Run(ctx); err != nil {
		slog.Error("Check-in export failed", "error", err)
	} else if rows > 0 {
		slog.Info("Background sync exported rows", "rows", rows)
	}

	slog.Info("Background sync completed")
}
