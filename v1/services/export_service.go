package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klubbkiosk/kiosk-backend/v1/locks"
	"github.com/klubbkiosk/kiosk-backend/v1/metrics"
	"github.com/klubbkiosk/kiosk-backend/v1/models"
	"gorm.io/gorm"
)

// ExportService moves check-in rows from the local store to the export
// worksheet. Every run walks the same state machine: take the run lock,
// repair stale claims, claim all pending rows, upload the batch, then
// finalize or roll back. A crash at any point leaves rows either pending
// or claimed, and claimed rows return to pending on the next run, so no
// check-in is ever lost. The cost is at-least-once delivery: a crash
// between a successful upload and the finalize commit re-uploads that
// batch on the next run. The sink is an append-only human-reviewed log,
// so duplicates are accepted rather than deduplicated.
type ExportService struct {
	db      *gorm.DB
	sheets  SheetClient
	runLock *locks.FileLock

	uploadAttempts int
	uploadDelay    time.Duration
}

// NewExportService creates a new export service
func NewExportService(db *gorm.DB, sheets SheetClient, runLock *locks.FileLock) *ExportService {
	return &ExportService{
		db:             db,
		sheets:         sheets,
		runLock:        runLock,
		uploadAttempts: 3,
		uploadDelay:    2 * time.Second,
	}
}

// claimedCheckin is one claimed row joined against the member mirror.
type claimedCheckin struct {
	ID          uint
	Name        string
	Timestamp   string
	PersonID    *string
	CheckinType string
	YearOfBirth *string
}

// Run executes one reconciliation pass and returns the number of rows
// exported. A run that finds the lock already held, or no pending rows,
// returns (0, nil).
func (s *ExportService) Run(ctx context.Context) (int, error) {
	acquired, err := s.runLock.TryAcquire()
	if err != nil {
		return 0, fmt.Errorf("failed to acquire export lock: %w", err)
	}
	if !acquired {
		slog.Info("Export already in progress, skipping run", "lock", s.runLock.Path())
		metrics.ExportRuns.WithLabelValues("skipped").Inc()
		return 0, nil
	}
	defer func() {
		if err := s.runLock.Release(); err != nil {
			slog.Warn("Failed to release export lock", "error", err)
		}
	}()

	// Claimed rows left behind by a crashed run go back to pending
	// before new work is claimed.
	if err := s.recoverStaleClaims(); err != nil {
		metrics.ExportRuns.WithLabelValues("error").Inc()
		return 0, err
	}

	claimed, err := s.claimPending()
	if err != nil {
		metrics.ExportRuns.WithLabelValues("error").Inc()
		return 0, err
	}
	if claimed == 0 {
		slog.Debug("No new check-ins to export")
		metrics.ExportRuns.WithLabelValues("empty").Inc()
		return 0, nil
	}

	batchID := uuid.New().String()
	exported, err := s.exportClaimed(ctx, batchID)
	if err != nil {
		if rbErr := s.rollbackClaims(); rbErr != nil {
			// The rows stay claimed; the next run's stale-claim
			// recovery picks them up.
			slog.Error("Rollback of claimed rows failed", "batchID", batchID, "error", rbErr)
		}
		logSync(ctx, s.sheets, "write", models.WorksheetExportLog, 0, "error", err.Error())
		metrics.ExportRuns.WithLabelValues("error").Inc()
		return 0, err
	}

	logSync(ctx, s.sheets, "write", models.WorksheetExportLog, exported, "ok", "batch "+batchID)
	metrics.ExportRuns.WithLabelValues("ok").Inc()
	return exported, nil
}

// recoverStaleClaims returns rows stuck in the claimed state to pending.
func (s *ExportService) recoverStaleClaims() error {
	res := s.db.Model(&models.CheckinRecord{}).
		Where("exported = ?", models.ExportStatusClaimed).
		Update("exported", models.ExportStatusPending)
	if res.Error != nil {
		return fmt.Errorf("failed to recover stale claims: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		slog.Warn("Recovered stale claimed rows from a previous run", "rows", res.RowsAffected)
	}
	return nil
}

// claimPending transitions every pending row to claimed in one update.
func (s *ExportService) claimPending() (int64, error) {
	res := s.db.Model(&models.CheckinRecord{}).
		Where("exported = ?", models.ExportStatusPending).
		Update("exported", models.ExportStatusClaimed)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to claim pending check-ins: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// exportClaimed uploads every claimed row and finalizes them. Called with
// the run lock held.
func (s *ExportService) exportClaimed(ctx context.Context, batchID string) (int, error) {
	claimed, err := s.fetchClaimed()
	if err != nil {
		return 0, err
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	rows := make([][]string, 0, len(claimed))
	ids := make([]uint, 0, len(claimed))
	for _, c := range claimed {
		rows = append(rows, buildExportRow(c))
		ids = append(ids, c.ID)
	}

	if err := s.uploadWithRetry(ctx, rows); err != nil {
		return 0, err
	}

	if err := s.finalize(ids); err != nil {
		return 0, err
	}

	slog.Info("Exported check-ins", "rows", len(rows), "batchID", batchID)
	metrics.RowsExported.Add(float64(len(rows)))
	return len(rows), nil
}

// fetchClaimed reads the claimed set joined against the member mirror in
// a single query, so the mirror cannot change between the check-in read
// and the name match.
func (s *ExportService) fetchClaimed() ([]claimedCheckin, error) {
	var rows []claimedCheckin
	err := s.db.Model(&models.CheckinRecord{}).
		Select("checkins.id, checkins.name, checkins.timestamp, checkins.person_id, checkins.checkin_type, members.year_of_birth").
		Joins("LEFT JOIN members ON lower(trim(checkins.name)) = lower(trim(members.name))").
		Where("checkins.exported = ?", models.ExportStatusClaimed).
		Order("checkins.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch claimed check-ins: %w", err)
	}
	return rows, nil
}

// buildExportRow derives the 6-column sink row. Guest rows carry their
// person id; member rows carry the matched year of birth, or an empty id
// when the name is not in the mirror.
func buildExportRow(c claimedCheckin) []string {
	var id, typeVal string
	if c.CheckinType == models.CheckinTypeOneTimeFee {
		if c.PersonID != nil {
			id = *c.PersonID
		}
		typeVal = models.CheckinTypeOneTimeFee
	} else if c.YearOfBirth != nil {
		id = *c.YearOfBirth
	}

	date, hour := splitTimestamp(c.Timestamp)
	return []string{c.Name, id, typeVal, c.Timestamp, date, hour}
}

// splitTimestamp derives the date and whole-hour columns from the legacy
// "YYYY-MM-DD HH:MM:SS" string. Malformed values degrade to empty fields
// rather than failing the row.
func splitTimestamp(ts string) (date, hour string) {
	parts := strings.SplitN(ts, " ", 2)
	date = parts[0]
	if len(parts) < 2 {
		return date, ""
	}
	if i := strings.Index(parts[1], ":"); i > 0 {
		hour = parts[1][:i] + ":00"
	}
	return date, hour
}

// uploadWithRetry appends the batch to the export worksheet, retrying
// transient sink failures on a fixed delay.
func (s *ExportService) uploadWithRetry(ctx context.Context, rows [][]string) error {
	var lastErr error
	for attempt := 1; attempt <= s.uploadAttempts; attempt++ {
		if attempt > 1 {
			slog.Warn("Export upload failed, retrying", "attempt", attempt, "error", lastErr)
			time.Sleep(s.uploadDelay)
		}
		if err := s.appendBatch(ctx, rows); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("%w: %v", ErrUploadFailed, lastErr)
}

// appendBatch performs one append attempt against the sink, creating the
// worksheet or its header first when missing.
func (s *ExportService) appendBatch(ctx context.Context, rows [][]string) error {
	if err := s.ensureHeader(ctx); err != nil {
		return err
	}
	return s.sheets.AppendRows(ctx, models.WorksheetExportLog, rows)
}

// ensureHeader makes sure the export worksheet exists and starts with the
// expected header row.
func (s *ExportService) ensureHeader(ctx context.Context) error {
	values, err := s.sheets.GetValues(ctx, models.WorksheetExportLog)
	if errors.Is(err, ErrWorksheetNotFound) {
		return s.sheets.CreateWorksheet(ctx, models.WorksheetExportLog, models.ExportLogHeader)
	}
	if err != nil {
		return fmt.Errorf("failed to read export worksheet: %w", err)
	}
	if len(values) > 0 && len(values[0]) > 0 && strings.EqualFold(values[0][0], models.ExportLogHeader[0]) {
		return nil
	}
	return s.sheets.InsertHeader(ctx, models.WorksheetExportLog, models.ExportLogHeader)
}

// finalize marks the claimed ids exported in one batch update.
func (s *ExportService) finalize(ids []uint) error {
	res := s.db.Model(&models.CheckinRecord{}).
		Where("id IN ?", ids).
		Where("exported = ?", models.ExportStatusClaimed).
		Update("exported", models.ExportStatusExported)
	if res.Error != nil {
		return fmt.Errorf("failed to finalize exported check-ins: %w", res.Error)
	}
	return nil
}

// rollbackClaims returns every claimed row to pending so the next run
// retries them. Rows already appended to the sink are not removed, so a
// partial upload before the failure can deliver duplicates on retry.
func (s *ExportService) rollbackClaims() error {
	res := s.db.Model(&models.CheckinRecord{}).
		Where("exported = ?", models.ExportStatusClaimed).
		Update("exported", models.ExportStatusPending)
	if res.Error != nil {
		return fmt.Errorf("failed to roll back claimed check-ins: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		slog.Info("Rolled back claimed rows to pending", "rows", res.RowsAffected)
	}
	return nil
}
