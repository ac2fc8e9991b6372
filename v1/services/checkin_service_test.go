package services

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/klubbkiosk/kiosk-backend/v1/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestRecordCheckin_CreatesPendingRow(t *testing.T) {
	db := setupTestDB(t)
	svc := NewCheckinService(db)

	record, err := svc.RecordCheckin("  Alice  ", "2024-05-01 10:15:00", nil, "")
	require.NoError(t, err)
	require.NotNil(t, record)

	assert.NotZero(t, record.ID)
	assert.Equal(t, "Alice", record.Name)
	assert.Equal(t, "2024-05-01 10:15:00", record.Timestamp)
	assert.Equal(t, models.ExportStatusPending, record.ExportStatus)
	assert.Nil(t, record.PersonID)
	assert.Empty(t, record.CheckinType)

	var stored models.CheckinRecord
	require.NoError(t, db.First(&stored, record.ID).Error)
	assert.Equal(t, "Alice", stored.Name)
	assert.Equal(t, models.ExportStatusPending, stored.ExportStatus)
}

func TestRecordCheckin_GuestCarriesPersonIDAndType(t *testing.T) {
	db := setupTestDB(t)
	svc := NewCheckinService(db)

	personID := "199001011234"
	record, err := svc.RecordCheckin("Berit", "2024-05-01 11:00:00", &personID, models.CheckinTypeOneTimeFee)
	require.NoError(t, err)

	require.NotNil(t, record.PersonID)
	assert.Equal(t, personID, *record.PersonID)
	assert.Equal(t, models.CheckinTypeOneTimeFee, record.CheckinType)
	assert.Equal(t, models.ExportStatusPending, record.ExportStatus)
}

// setupMockDB wires gorm to a sqlmock connection so the insert retry path
// can be driven with scripted errors.
func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func TestRecordCheckin_RetriesWhileStoreBusy(t *testing.T) {
	db, mock := setupMockDB(t)

	insert := regexp.QuoteMeta(`INSERT INTO "checkins"`)
	busy := errors.New("database is locked")
	mock.ExpectQuery(insert).WillReturnError(busy)
	mock.ExpectQuery(insert).WillReturnError(busy)
	mock.ExpectQuery(insert).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	svc := NewCheckinService(db)
	svc.retryDelay = time.Millisecond

	record, err := svc.RecordCheckin("Alice", "2024-05-01 10:15:00", nil, "")
	require.NoError(t, err)
	assert.Equal(t, uint(1), record.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordCheckin_GivesUpWhenStoreStaysBusy(t *testing.T) {
	db, mock := setupMockDB(t)

	insert := regexp.QuoteMeta(`INSERT INTO "checkins"`)
	for i := 0; i < 5; i++ {
		mock.ExpectQuery(insert).WillReturnError(errors.New("database table is locked"))
	}

	svc := NewCheckinService(db)
	svc.retryDelay = time.Millisecond

	_, err := svc.RecordCheckin("Alice", "2024-05-01 10:15:00", nil, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorageBusy))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordCheckin_DoesNotRetryOtherErrors(t *testing.T) {
	db, mock := setupMockDB(t)

	insert := regexp.QuoteMeta(`INSERT INTO "checkins"`)
	mock.ExpectQuery(insert).WillReturnError(errors.New("NOT NULL constraint failed"))

	svc := NewCheckinService(db)
	svc.retryDelay = time.Millisecond

	_, err := svc.RecordCheckin("Alice", "2024-05-01 10:15:00", nil, "")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrStorageBusy))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListPendingCheckins_OldestFirst(t *testing.T) {
	db := setupTestDB(t)

	first := seedCheckin(t, db, models.CheckinRecord{Name: "Alice", Timestamp: "2024-05-01 10:00:00"})
	seedCheckin(t, db, models.CheckinRecord{Name: "Bob", Timestamp: "2024-05-01 10:05:00", ExportStatus: models.ExportStatusExported})
	third := seedCheckin(t, db, models.CheckinRecord{Name: "Cecilia", Timestamp: "2024-05-01 10:10:00"})

	pending, err := NewCheckinService(db).ListPendingCheckins()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, third.ID, pending[1].ID)
}

func TestStatusSummary(t *testing.T) {
	db := setupTestDB(t)

	seedCheckin(t, db, models.CheckinRecord{Name: "Alice", Timestamp: "2024-05-01 10:00:00"})
	seedCheckin(t, db, models.CheckinRecord{Name: "Bob", Timestamp: "2024-05-01 10:05:00"})
	seedCheckin(t, db, models.CheckinRecord{Name: "Cecilia", Timestamp: "2024-05-01 10:10:00", ExportStatus: models.ExportStatusExported})
	seedCheckin(t, db, models.CheckinRecord{Name: "David", Timestamp: "2024-05-01 10:15:00", ExportStatus: models.ExportStatusClaimed})

	summary, err := NewCheckinService(db).StatusSummary()
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary["pending"])
	assert.Equal(t, int64(1), summary["exported"])
	assert.Equal(t, int64(1), summary["claimed"])
}

func TestResetExports(t *testing.T) {
	db := setupTestDB(t)

	seedCheckin(t, db, models.CheckinRecord{Name: "Alice", Timestamp: "2024-05-01 10:00:00", ExportStatus: models.ExportStatusExported})
	seedCheckin(t, db, models.CheckinRecord{Name: "Bob", Timestamp: "2024-05-01 10:05:00", ExportStatus: models.ExportStatusClaimed})
	seedCheckin(t, db, models.CheckinRecord{Name: "Cecilia", Timestamp: "2024-05-01 10:10:00"})

	rows, err := NewCheckinService(db).ResetExports()
	require.NoError(t, err)
	assert.Equal(t, int64(2), rows)

	var pending int64
	require.NoError(t, db.Model(&models.CheckinRecord{}).
		Where("exported = ?", models.ExportStatusPending).
		Count(&pending).Error)
	assert.Equal(t, int64(3), pending)
}
