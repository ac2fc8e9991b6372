package models

// CheckinTypeOneTimeFee tags guest check-ins paid as a one-off fee rather
// than through a membership. Regular member check-ins carry an empty type.
const CheckinTypeOneTimeFee = "one-time-fee"

// MaxMembershipTypeLength caps the membership type text to what the
// export sink accepts.
const MaxMembershipTypeLength = 20

// Worksheet names in the backing spreadsheet.
const (
	// WorksheetMembers holds the canonical member roster.
	WorksheetMembers = "Members"
	// WorksheetFirst is the gateway alias for the first worksheet of the
	// spreadsheet, used as a roster fallback for single-sheet setups.
	WorksheetFirst = "sheet1"
	// WorksheetExportLog receives exported check-in rows.
	WorksheetExportLog = "Logg"
	// WorksheetSyncLog receives best-effort sync audit rows.
	WorksheetSyncLog = "SyncLog"
)

// ExportLogHeader is the header row written when the export worksheet is
// created, or found without one.
var ExportLogHeader = []string{"name", "id", "type", "timestamp", "date", "hour"}

// SyncLogHeader is the header row for the audit worksheet.
var SyncLogHeader = []string{"timestamp", "action", "target", "rows", "status", "note"}
