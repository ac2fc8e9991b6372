package services

import "errors"

var (
	// ErrStorageBusy means the local store stayed locked through the
	// whole bounded retry budget.
	ErrStorageBusy = errors.New("local store busy: retries exhausted")

	// ErrUploadFailed means the export sink rejected the batch on every
	// retry attempt. The claimed rows are rolled back to pending.
	ErrUploadFailed = errors.New("export sink upload failed: retries exhausted")

	// ErrSourceUnavailable means the roster or sink could not be reached
	// at all. Member sync leaves the prior mirror intact on this error.
	ErrSourceUnavailable = errors.New("spreadsheet source unavailable")

	// ErrWorksheetNotFound is returned by the sheet gateway when the
	// named worksheet does not exist in the spreadsheet.
	ErrWorksheetNotFound = errors.New("worksheet not found")
)
