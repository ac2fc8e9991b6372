package models

import "fmt"

// ExportStatus tracks a check-in row through the export reconciliation
// state machine. The numeric values are what is persisted; they match the
// historical kiosk schema (0 = pending, 1 = exported, 2 = claimed) so an
// existing checkins.db keeps reading correctly.
type ExportStatus int

const (
	ExportStatusPending  ExportStatus = 0
	ExportStatusExported ExportStatus = 1
	ExportStatusClaimed  ExportStatus = 2
)

// String returns the human-readable status name.
func (s ExportStatus) String() string {
	switch s {
	case ExportStatusPending:
		return "pending"
	case ExportStatusExported:
		return "exported"
	case ExportStatusClaimed:
		return "claimed"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// CanTransitionTo reports whether moving to next is a legal state change.
// Legal moves: pending -> claimed, claimed -> exported, and claimed ->
// pending (rollback). Exported is terminal.
func (s ExportStatus) CanTransitionTo(next ExportStatus) bool {
	switch s {
	case ExportStatusPending:
		return next == ExportStatusClaimed
	case ExportStatusClaimed:
		return next == ExportStatusExported || next == ExportStatusPending
	}
	return false
}

// CheckinRecord is one row in the append-only check-in audit trail.
// Rows are created by the check-in handlers, advanced only by the export
// reconciler, and never deleted. Timestamp keeps the legacy wall-clock
// string format "YYYY-MM-DD HH:MM:SS" written by the kiosk terminal.
type CheckinRecord struct {
	ID           uint         `gorm:"primarykey;column:id" json:"id"`
	Name         string       `gorm:"column:name" json:"name"`
	Timestamp    string       `gorm:"column:timestamp" json:"timestamp"`
	ExportStatus ExportStatus `gorm:"column:exported;default:0" json:"exportStatus"`
	PersonID     *string      `gorm:"column:person_id" json:"personId,omitempty"`
	CheckinType  string       `gorm:"column:checkin_type" json:"checkinType,omitempty"`
}

// TableName sets the table name for GORM
func (CheckinRecord) TableName() string {
	return "checkins"
}
