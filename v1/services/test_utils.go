package services

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	v1 "github.com/klubbkiosk/kiosk-backend/v1"
	"github.com/klubbkiosk/kiosk-backend/v1/locks"
	"github.com/klubbkiosk/kiosk-backend/v1/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB creates a throwaway sqlite database for one test. A file in
// t.TempDir() rather than :memory:, so every pooled connection sees the
// same database the way a real kiosk deployment does.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "checkins_test.db")
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?_busy_timeout=5000", path)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := v1.InitSchema(db); err != nil {
		t.Fatalf("Failed to init test schema: %v", err)
	}
	return db
}

// newTestExportService builds an exporter with its run lock in a private
// temp dir and retry delays shrunk to test speed.
func newTestExportService(t *testing.T, db *gorm.DB, sheets SheetClient) *ExportService {
	t.Helper()

	svc := NewExportService(db, sheets, locks.New(t.TempDir(), locks.ExportLockName))
	svc.uploadDelay = time.Millisecond
	return svc
}

func seedMember(t *testing.T, db *gorm.DB, name, yearOfBirth string) {
	t.Helper()

	record := models.MemberRecord{Name: name}
	if yearOfBirth != "" {
		record.YearOfBirth = &yearOfBirth
	}
	if err := db.Create(&record).Error; err != nil {
		t.Fatalf("Failed to seed member %s: %v", name, err)
	}
}

func seedCheckin(t *testing.T, db *gorm.DB, record models.CheckinRecord) models.CheckinRecord {
	t.Helper()

	if err := db.Create(&record).Error; err != nil {
		t.Fatalf("Failed to seed check-in for %s: %v", record.Name, err)
	}
	return record
}

// fakeSheetClient is an in-memory SheetClient with error injection.
type fakeSheetClient struct {
	mu          sync.Mutex
	worksheets  map[string][][]string
	getErr      error
	appendErr   error
	appendCalls map[string]int
	created     []string
	headerSet   []string
}

func newFakeSheetClient() *fakeSheetClient {
	return &fakeSheetClient{
		worksheets:  make(map[string][][]string),
		appendCalls: make(map[string]int),
	}
}

func (f *fakeSheetClient) GetValues(ctx context.Context, worksheet string) ([][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.getErr != nil {
		return nil, f.getErr
	}
	values, ok := f.worksheets[worksheet]
	if !ok {
		return nil, ErrWorksheetNotFound
	}
	return values, nil
}

func (f *fakeSheetClient) AppendRows(ctx context.Context, worksheet string, rows [][]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.worksheets[worksheet]; !ok {
		return ErrWorksheetNotFound
	}
	f.appendCalls[worksheet]++
	if f.appendErr != nil {
		return f.appendErr
	}
	f.worksheets[worksheet] = append(f.worksheets[worksheet], rows...)
	return nil
}

func (f *fakeSheetClient) InsertHeader(ctx context.Context, worksheet string, header []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.headerSet = append(f.headerSet, worksheet)
	f.worksheets[worksheet] = append([][]string{header}, f.worksheets[worksheet]...)
	return nil
}

func (f *fakeSheetClient) CreateWorksheet(ctx context.Context, worksheet string, header []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.created = append(f.created, worksheet)
	f.worksheets[worksheet] = [][]string{header}
	return nil
}

// rows returns the current contents of a worksheet, or nil when it does
// not exist.
func (f *fakeSheetClient) rows(worksheet string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()

	values := f.worksheets[worksheet]
	out := make([][]string, len(values))
	copy(out, values)
	return out
}

func (f *fakeSheetClient) appendCount(worksheet string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.appendCalls[worksheet]
}
