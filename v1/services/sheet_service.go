package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/klubbkiosk/kiosk-backend/v1/models"
	"github.com/klubbkiosk/kiosk-backend/v1/utils"
	"golang.org/x/oauth2/clientcredentials"
)

// SheetClient is the gateway to the backing spreadsheet. The kiosk core
// only ever reads whole worksheets and appends rows; credential handling
// lives behind the gateway. The special worksheet name "sheet1" resolves
// to the first worksheet of the spreadsheet.
type SheetClient interface {
	// GetValues returns every cell of the named worksheet as rows of
	// strings. A missing worksheet yields ErrWorksheetNotFound.
	GetValues(ctx context.Context, worksheet string) ([][]string, error)
	// AppendRows appends rows at the bottom of the named worksheet.
	AppendRows(ctx context.Context, worksheet string, rows [][]string) error
	// InsertHeader inserts a header row at the top of the worksheet.
	InsertHeader(ctx context.Context, worksheet string, header []string) error
	// CreateWorksheet creates the named worksheet with a header row.
	CreateWorksheet(ctx context.Context, worksheet string, header []string) error
}

// SheetService talks to the spreadsheet gateway over JSON/HTTP.
type SheetService struct {
	// baseURL is the endpoint of the spreadsheet gateway
	baseURL string
	// spreadsheet is the logical spreadsheet name all worksheets live in
	spreadsheet string
	// apiKey is sent on every request when set
	apiKey string
	// HTTPClient is used to make requests to the gateway
	HTTPClient *http.Client
}

// NewSheetService creates a new instance of SheetService
func NewSheetService(baseURL, spreadsheet, apiKey string) *SheetService {
	return &SheetService{
		baseURL:     baseURL,
		spreadsheet: spreadsheet,
		apiKey:      apiKey,
		HTTPClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

// NewSheetServiceFromEnv builds the gateway client from environment
// configuration. When OAuth client credentials are present the HTTP
// client refreshes its own tokens; otherwise the static API key header
// is used.
func NewSheetServiceFromEnv() *SheetService {
	s := NewSheetService(
		utils.GetEnvOrDefault("SHEETS_GATEWAY_URL", "http://localhost:3001"),
		utils.GetEnvOrDefault("SHEETS_SPREADSHEET", "KioskTest"),
		os.Getenv("SHEETS_GATEWAY_API_KEY"),
	)

	clientID := os.Getenv("SHEETS_OAUTH_CLIENT_ID")
	clientSecret := os.Getenv("SHEETS_OAUTH_CLIENT_SECRET")
	tokenURL := os.Getenv("SHEETS_OAUTH_TOKEN_URL")
	if clientID != "" && clientSecret != "" && tokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
		}
		s.HTTPClient = cc.Client(context.Background())
		s.HTTPClient.Timeout = 10 * time.Second
	}
	return s
}

// setAuthHeader is a helper function to add the gateway API key
func (s *SheetService) setAuthHeader(req *http.Request) {
	if s.apiKey != "" {
		req.Header.Set("apikey", s.apiKey)
	}
}

// worksheetURL builds a gateway URL under the configured spreadsheet.
func (s *SheetService) worksheetURL(worksheet, suffix string) string {
	return fmt.Sprintf("%s/api/v1/spreadsheets/%s/worksheets/%s%s",
		s.baseURL, url.PathEscape(s.spreadsheet), url.PathEscape(worksheet), suffix)
}

// doJSON sends one request and decodes the response into out when out is
// non-nil. A 404 maps to ErrWorksheetNotFound.
func (s *SheetService) doJSON(ctx context.Context, method, reqURL string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		reqBody, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(reqBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	s.setAuthHeader(httpReq)

	resp, err := s.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to sheet gateway: %w", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			slog.Error("failed to close response body", "error", err)
		}
	}(resp.Body)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrWorksheetNotFound
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		slog.Error("Sheet gateway returned error", "status", resp.StatusCode, "body", string(respBody))
		return fmt.Errorf("sheet gateway returned status %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// GetValues returns every cell of the named worksheet.
func (s *SheetService) GetValues(ctx context.Context, worksheet string) ([][]string, error) {
	var response struct {
		Values [][]string `json:"values"`
	}
	if err := s.doJSON(ctx, http.MethodGet, s.worksheetURL(worksheet, "/values"), nil, &response); err != nil {
		return nil, err
	}
	return response.Values, nil
}

// AppendRows appends rows at the bottom of the named worksheet.
func (s *SheetService) AppendRows(ctx context.Context, worksheet string, rows [][]string) error {
	payload := map[string]interface{}{"rows": rows}
	return s.doJSON(ctx, http.MethodPost, s.worksheetURL(worksheet, "/values:append"), payload, nil)
}

// InsertHeader inserts a header row at the top of the worksheet.
func (s *SheetService) InsertHeader(ctx context.Context, worksheet string, header []string) error {
	payload := map[string]interface{}{"header": header}
	return s.doJSON(ctx, http.MethodPost, s.worksheetURL(worksheet, "/header"), payload, nil)
}

// CreateWorksheet creates the named worksheet with a header row.
func (s *SheetService) CreateWorksheet(ctx context.Context, worksheet string, header []string) error {
	createURL := fmt.Sprintf("%s/api/v1/spreadsheets/%s/worksheets", s.baseURL, url.PathEscape(s.spreadsheet))
	payload := map[string]interface{}{"name": worksheet, "header": header}
	return s.doJSON(ctx, http.MethodPost, createURL, payload, nil)
}

// logSync appends a best-effort audit row to the SyncLog worksheet,
// creating the worksheet when it does not exist yet. Failures here are
// logged and swallowed; the audit trail must never affect the primary
// sync or export outcome.
func logSync(ctx context.Context, sheets SheetClient, action, target string, rows int, status, note string) {
	ts := time.Now().UTC().Format(time.RFC3339)
	row := [][]string{{ts, action, target, strconv.Itoa(rows), status, note}}

	err := sheets.AppendRows(ctx, models.WorksheetSyncLog, row)
	if errors.Is(err, ErrWorksheetNotFound) {
		if err := sheets.CreateWorksheet(ctx, models.WorksheetSyncLog, models.SyncLogHeader); err != nil {
			slog.Warn("Could not create sync log worksheet", "error", err)
			return
		}
		err = sheets.AppendRows(ctx, models.WorksheetSyncLog, row)
	}
	if err != nil {
		slog.Warn("Could not write sync log row", "action", action, "target", target, "error", err)
	}
}
