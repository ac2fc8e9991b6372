package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/klubbkiosk/kiosk-backend/v1/locks"
	"github.com/klubbkiosk/kiosk-backend/v1/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryElect_OnlyOneWinner(t *testing.T) {
	lockDir := t.TempDir()

	first := NewSyncScheduler(nil, nil, locks.New(lockDir, locks.SchedulerLockName))
	second := NewSyncScheduler(nil, nil, locks.New(lockDir, locks.SchedulerLockName))

	elected, err := first.TryElect()
	require.NoError(t, err)
	assert.True(t, elected)

	elected, err = second.TryElect()
	require.NoError(t, err)
	assert.False(t, elected)

	// The role frees up when the winner lets go.
	require.NoError(t, first.electionLock.Release())
	elected, err = second.TryElect()
	require.NoError(t, err)
	assert.True(t, elected)
}

func TestRunOnce_SwallowsFailures(t *testing.T) {
	db := setupTestDB(t)
	seedMember(t, db, "Alice", "1990")
	record := seedCheckin(t, db, models.CheckinRecord{Name: "Alice", Timestamp: "2024-05-01 10:00:00"})

	// Both the roster read and the export upload fail.
	fake := newFakeSheetClient()
	fake.getErr = errors.New("gateway down")

	members := NewMemberService(db, fake)
	exporter := newTestExportService(t, db, fake)
	scheduler := NewSyncScheduler(members, exporter, locks.New(t.TempDir(), locks.SchedulerLockName))

	scheduler.runOnce(context.Background())

	// The iteration fails quietly and leaves local state retryable.
	var count int64
	require.NoError(t, db.Model(&models.MemberRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, models.ExportStatusPending, checkinStatus(t, db, record.ID))
}

func TestStart_StopsOnCancel(t *testing.T) {
	db := setupTestDB(t)

	fake := newFakeSheetClient()
	fake.worksheets[models.WorksheetMembers] = [][]string{
		{"name", "year"},
		{"Alice", "1990"},
	}

	members := NewMemberService(db, fake)
	exporter := newTestExportService(t, db, fake)
	scheduler := NewSyncScheduler(members, exporter, locks.New(t.TempDir(), locks.SchedulerLockName))
	scheduler.gracePeriod = time.Millisecond
	scheduler.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		scheduler.Start(ctx)
		close(done)
	}()

	// Let at least one iteration land, then stop the loop.
	require.Eventually(t, func() bool {
		var count int64
		return db.Model(&models.MemberRecord{}).Count(&count).Error == nil && count == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}
