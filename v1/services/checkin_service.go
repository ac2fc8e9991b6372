package services

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/klubbkiosk/kiosk-backend/v1/metrics"
	"github.com/klubbkiosk/kiosk-backend/v1/models"
	"gorm.io/gorm"
)

// TimestampLayout is the legacy wall-clock format the kiosk terminal has
// always written into the checkins table.
const TimestampLayout = "2006-01-02 15:04:05"

// NowTimestamp returns the current local wall-clock time in the legacy
// check-in format.
func NowTimestamp() string {
	return time.Now().Format(TimestampLayout)
}

// CheckinService handles writes and read-only projections of the
// check-in table.
type CheckinService struct {
	db *gorm.DB

	retryAttempts int
	retryDelay    time.Duration
}

// NewCheckinService creates a new check-in service
func NewCheckinService(db *gorm.DB) *CheckinService {
	return &CheckinService{
		db:            db,
		retryAttempts: 5,
		retryDelay:    500 * time.Millisecond,
	}
}

// RecordCheckin appends one pending check-in row. Sqlite allows a single
// writer at a time; when another process holds the write lock past the
// driver's busy timeout the insert is retried a bounded number of times
// before giving up with ErrStorageBusy. Callers pass a nil personID and
// empty checkinType for regular member check-ins.
func (s *CheckinService) RecordCheckin(name, timestamp string, personID *string, checkinType string) (*models.CheckinRecord, error) {
	record := &models.CheckinRecord{
		Name:         strings.TrimSpace(name),
		Timestamp:    timestamp,
		ExportStatus: models.ExportStatusPending,
		PersonID:     personID,
		CheckinType:  checkinType,
	}

	var lastErr error
	for attempt := 1; attempt <= s.retryAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(s.retryDelay)
		}
		err := s.db.Create(record).Error
		if err == nil {
			metrics.CheckinsRecorded.Inc()
			return record, nil
		}
		if !isBusyError(err) {
			return nil, fmt.Errorf("failed to record check-in: %w", err)
		}
		lastErr = err
		slog.Warn("Local store busy, retrying check-in insert", "attempt", attempt, "error", err)
	}
	return nil, fmt.Errorf("%w: %v", ErrStorageBusy, lastErr)
}

// isBusyError matches sqlite's transient writer-lock conditions.
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// ListPendingCheckins returns rows not yet picked up by the exporter,
// oldest first.
func (s *CheckinService) ListPendingCheckins() ([]models.CheckinRecord, error) {
	var records []models.CheckinRecord
	err := s.db.Where("exported = ?", models.ExportStatusPending).
		Order("id ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending check-ins: %w", err)
	}
	return records, nil
}

// ListCheckins returns the most recent rows for the inspection endpoint.
func (s *CheckinService) ListCheckins(limit int) ([]models.CheckinRecord, error) {
	var records []models.CheckinRecord
	err := s.db.Order("id DESC").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list check-ins: %w", err)
	}
	return records, nil
}

// StatusSummary counts check-in rows per export status.
func (s *CheckinService) StatusSummary() (map[string]int64, error) {
	summary := make(map[string]int64, 3)
	for _, status := range []models.ExportStatus{
		models.ExportStatusPending,
		models.ExportStatusExported,
		models.ExportStatusClaimed,
	} {
		var count int64
		err := s.db.Model(&models.CheckinRecord{}).
			Where("exported = ?", status).
			Count(&count).Error
		if err != nil {
			return nil, fmt.Errorf("failed to count %s check-ins: %w", status, err)
		}
		summary[status.String()] = count
	}
	return summary, nil
}

// ResetExports forces every check-in row back to pending so the next
// export run re-uploads the full history. Administrative escape hatch;
// the sink will receive duplicate rows.
func (s *CheckinService) ResetExports() (int64, error) {
	res := s.db.Model(&models.CheckinRecord{}).
		Where("exported <> ?", models.ExportStatusPending).
		Update("exported", models.ExportStatusPending)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to reset exports: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		slog.Info("Reset export status on check-in rows", "rows", res.RowsAffected)
	}
	return res.RowsAffected, nil
}
