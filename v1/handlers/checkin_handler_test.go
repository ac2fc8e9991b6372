package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	v1 "github.com/klubbkiosk/kiosk-backend/v1"
	"github.com/klubbkiosk/kiosk-backend/v1/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestMux builds the kiosk API against a throwaway database. The
// handlers never touch the spreadsheet, so no sheet client is needed.
func setupTestMux(t *testing.T) (*http.ServeMux, *gorm.DB) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "checkins_test.db")
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?_busy_timeout=5000", path)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, v1.InitSchema(db))

	mux := http.NewServeMux()
	NewKioskHandler(db, nil).SetupRoutes(mux)
	return mux, db
}

func seedMember(t *testing.T, db *gorm.DB, name string) {
	t.Helper()
	require.NoError(t, db.Create(&models.MemberRecord{Name: name}).Error)
}

func doJSON(mux *http.ServeMux, method, target string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestCheckin_KnownMember(t *testing.T) {
	mux, db := setupTestMux(t)
	seedMember(t, db, "Alice")

	rec := doJSON(mux, http.MethodPost, "/api/v1/checkins", map[string]string{"name": "alice"})
	assert.Equal(t, http.StatusCreated, rec.Code)

	var created models.CheckinRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "alice", created.Name)
	assert.Equal(t, models.ExportStatusPending, created.ExportStatus)

	var count int64
	require.NoError(t, db.Model(&models.CheckinRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCheckin_UnknownName(t *testing.T) {
	mux, db := setupTestMux(t)
	seedMember(t, db, "Alice")

	rec := doJSON(mux, http.MethodPost, "/api/v1/checkins", map[string]string{"name": "Mallory"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "name not in member list")

	var count int64
	require.NoError(t, db.Model(&models.CheckinRecord{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestCheckin_MissingName(t *testing.T) {
	mux, _ := setupTestMux(t)

	rec := doJSON(mux, http.MethodPost, "/api/v1/checkins", map[string]string{"name": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "name is required")
}

func TestCheckin_InvalidJSON(t *testing.T) {
	mux, _ := setupTestMux(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkins", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckinGuest(t *testing.T) {
	mux, db := setupTestMux(t)

	rec := doJSON(mux, http.MethodPost, "/api/v1/checkins/guest", map[string]string{
		"name":     "Berit",
		"personId": "199001011234",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)

	var stored models.CheckinRecord
	require.NoError(t, db.First(&stored).Error)
	assert.Equal(t, "Berit", stored.Name)
	assert.Equal(t, models.CheckinTypeOneTimeFee, stored.CheckinType)
	require.NotNil(t, stored.PersonID)
	assert.Equal(t, "199001011234", *stored.PersonID)
}

func TestCheckinGuest_RequiresPersonID(t *testing.T) {
	mux, _ := setupTestMux(t)

	rec := doJSON(mux, http.MethodPost, "/api/v1/checkins/guest", map[string]string{"name": "Berit"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "personId")
}

func TestListMembers(t *testing.T) {
	mux, db := setupTestMux(t)
	seedMember(t, db, "Alice")
	seedMember(t, db, "Bob")

	rec := doJSON(mux, http.MethodGet, "/api/v1/members", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Members []models.MemberRecord `json:"members"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.Len(t, response.Members, 2)
	assert.Equal(t, "Alice", response.Members[0].Name)
}

func TestListCheckins(t *testing.T) {
	mux, db := setupTestMux(t)
	require.NoError(t, db.Create(&models.CheckinRecord{Name: "Alice", Timestamp: "2024-05-01 10:00:00"}).Error)
	require.NoError(t, db.Create(&models.CheckinRecord{Name: "Bob", Timestamp: "2024-05-01 11:00:00", ExportStatus: models.ExportStatusExported}).Error)

	rec := doJSON(mux, http.MethodGet, "/api/v1/checkins", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Checkins []models.CheckinRecord `json:"checkins"`
		Summary  map[string]int64       `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.Len(t, response.Checkins, 2)
	// Most recent first.
	assert.Equal(t, "Bob", response.Checkins[0].Name)
	assert.Equal(t, int64(1), response.Summary["pending"])
	assert.Equal(t, int64(1), response.Summary["exported"])
}

func TestListCheckins_InvalidLimit(t *testing.T) {
	mux, _ := setupTestMux(t)

	rec := doJSON(mux, http.MethodGet, "/api/v1/checkins?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(mux, http.MethodGet, "/api/v1/checkins?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
