package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/klubbkiosk/kiosk-backend/v1/metrics"
	"github.com/klubbkiosk/kiosk-backend/v1/models"
	"gorm.io/gorm"
)

// Header alias sets for roster worksheets. The roster is maintained by
// hand in a spreadsheet, partly in Swedish, so several spellings are
// accepted for each column.
var (
	rosterNameKeys = []string{"name", "full name", "fullname", "namn"}
	rosterYearKeys = []string{
		"year", "year_of_birth", "yob", "birthyear",
		"födelseår", "fodelsear", "född", "fodd", "år", "ar",
	}
	rosterTypeKeys = []string{
		"avgiftstyp", "type", "membership", "membership_type", "typ", "medlemstyp",
	}
)

// ParsedMember is one roster row after field extraction.
type ParsedMember struct {
	Name           string
	YearOfBirth    *string
	MembershipType string
}

// MemberService keeps the local member mirror in step with the remote
// roster and serves read-only member lookups.
type MemberService struct {
	db     *gorm.DB
	sheets SheetClient
}

// NewMemberService creates a new member service
func NewMemberService(db *gorm.DB, sheets SheetClient) *MemberService {
	return &MemberService{db: db, sheets: sheets}
}

// ParseRoster extracts member rows from raw worksheet cells. If the first
// row names a known column it is treated as a header and columns are
// mapped by name; otherwise column A is the name and column B the year of
// birth. Rows with a blank name are dropped; the year is kept as opaque
// trimmed text; the membership type is truncated to the sink limit.
func ParseRoster(values [][]string) []ParsedMember {
	if len(values) == 0 {
		return nil
	}

	first := make([]string, len(values[0]))
	for i, cell := range values[0] {
		first[i] = strings.ToLower(strings.TrimSpace(cell))
	}
	hasHeader := containsAny(first, rosterNameKeys) || containsAny(first, rosterYearKeys)

	header := first
	rows := values
	if hasHeader {
		rows = values[1:]
	}

	var parsed []ParsedMember
	for _, r := range rows {
		var name, yob, memberType string
		if hasHeader {
			data := make(map[string]string, len(header))
			for i, h := range header {
				if i < len(r) {
					data[h] = strings.TrimSpace(r[i])
				} else {
					data[h] = ""
				}
			}
			name = firstNonEmpty(data, rosterNameKeys)
			yob = firstNonEmpty(data, rosterYearKeys)
			memberType = firstNonEmpty(data, rosterTypeKeys)
		} else {
			if len(r) >= 1 {
				name = strings.TrimSpace(r[0])
			}
			if len(r) >= 2 {
				yob = strings.TrimSpace(r[1])
			}
		}

		if name == "" {
			continue
		}

		var yearOfBirth *string
		if yob != "" {
			year := yob
			yearOfBirth = &year
		}
		if len(memberType) > models.MaxMembershipTypeLength {
			memberType = memberType[:models.MaxMembershipTypeLength]
		}

		parsed = append(parsed, ParsedMember{
			Name:           name,
			YearOfBirth:    yearOfBirth,
			MembershipType: memberType,
		})
	}
	return parsed
}

func containsAny(cells []string, keys []string) bool {
	for _, cell := range cells {
		for _, key := range keys {
			if cell == key {
				return true
			}
		}
	}
	return false
}

func firstNonEmpty(data map[string]string, keys []string) string {
	for _, key := range keys {
		if v := data[key]; v != "" {
			return v
		}
	}
	return ""
}

// ReplaceMembers swaps the whole member mirror for the parsed snapshot in
// one transaction. On any failure the previous mirror is left untouched.
func (s *MemberService) ReplaceMembers(parsed []ParsedMember) error {
	now := time.Now().UTC().Format(time.RFC3339)
	return s.db.Transaction(func(tx *gorm.DB) error {
		// Full refresh so the mirror matches the roster, including
		// removals.
		if err := tx.Where("1 = 1").Delete(&models.MemberRecord{}).Error; err != nil {
			return fmt.Errorf("failed to clear member mirror: %w", err)
		}

		records := make([]models.MemberRecord, 0, len(parsed))
		for _, p := range parsed {
			records = append(records, models.MemberRecord{
				Name:           p.Name,
				YearOfBirth:    p.YearOfBirth,
				MembershipType: p.MembershipType,
				LastUpdated:    now,
			})
		}
		if len(records) == 0 {
			return nil
		}
		if err := tx.Create(&records).Error; err != nil {
			return fmt.Errorf("failed to insert member mirror: %w", err)
		}
		return nil
	})
}

// ImportMembers pulls the roster worksheet and replaces the local mirror.
// A read that parses to zero valid rows keeps the previous mirror: a
// transient empty or garbled roster must not wipe local state. Returns
// the number of mirrored rows.
func (s *MemberService) ImportMembers(ctx context.Context) (int, error) {
	values, source, err := s.readRoster(ctx)
	if err != nil {
		logSync(ctx, s.sheets, "read", source, 0, "error", err.Error())
		metrics.MemberSyncRuns.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	parsed := ParseRoster(values)
	if len(parsed) == 0 {
		slog.Info("No valid members parsed, keeping existing mirror", "source", source)
		logSync(ctx, s.sheets, "read", source, 0, "empty", "no valid parsed members")
		metrics.MemberSyncRuns.WithLabelValues("empty").Inc()
		return 0, nil
	}

	if err := s.ReplaceMembers(parsed); err != nil {
		logSync(ctx, s.sheets, "read", source, 0, "error", err.Error())
		metrics.MemberSyncRuns.WithLabelValues("error").Inc()
		return 0, err
	}

	slog.Info("Imported members", "source", source, "rows", len(parsed))
	logSync(ctx, s.sheets, "read", source, len(parsed), "ok", "")
	metrics.MemberSyncRuns.WithLabelValues("ok").Inc()
	return len(parsed), nil
}

// readRoster prefers the Members worksheet and falls back to the first
// worksheet of the spreadsheet, a common single-sheet roster setup.
func (s *MemberService) readRoster(ctx context.Context) ([][]string, string, error) {
	values, err := s.sheets.GetValues(ctx, models.WorksheetMembers)
	if err == nil {
		return values, models.WorksheetMembers, nil
	}
	if !errors.Is(err, ErrWorksheetNotFound) {
		return nil, models.WorksheetMembers, err
	}

	values, err = s.sheets.GetValues(ctx, models.WorksheetFirst)
	if err != nil {
		return nil, models.WorksheetFirst, err
	}
	return values, models.WorksheetFirst, nil
}

// ListMembers returns the current mirror, for the kiosk page.
func (s *MemberService) ListMembers() ([]models.MemberRecord, error) {
	var members []models.MemberRecord
	if err := s.db.Order("name ASC").Find(&members).Error; err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	return members, nil
}

// IsKnownMember reports whether name matches any mirrored member,
// ignoring case and surrounding whitespace.
func (s *MemberService) IsKnownMember(name string) (bool, error) {
	var count int64
	err := s.db.Model(&models.MemberRecord{}).
		Where("lower(trim(name)) = lower(trim(?))", name).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to match member name: %w", err)
	}
	return count > 0, nil
}
