// Package sheets mirrors expenses into a Google Sheets spreadsheet.
// Rows use the interchange column order with the trip name in the first
// column, so a single sheet can hold several trips side by side.
package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"splittrip/internal/config"
	"splittrip/internal/core"
	"splittrip/internal/export"
)

var _ export.Target = (*Target)(nil)

// Target appends expense rows to one sheet of a spreadsheet.
type Target struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
}

// New builds the mirror target from configuration. The OAuth client and
// token are read from the configured files or inline JSON; the token is
// the one oauth-init writes.
func New(ctx context.Context, cfg *config.Config) (*Target, error) {
	if !cfg.SheetsMirrorConfigured() {
		return nil, errors.New("sheets mirror is not configured")
	}

	svc, err := newService(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &Target{
		svc:           svc,
		spreadsheetID: cfg.GoogleSpreadsheetID,
		sheetName:     cfg.GoogleSheetName,
	}, nil
}

func newService(ctx context.Context, cfg *config.Config) (*gsheet.Service, error) {
	clientJSON, err := loadCredential(cfg.GoogleOAuthClientJSON, cfg.GoogleOAuthClientFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load OAuth client credentials: %w", err)
	}

	oauthCfg, err := google.ConfigFromJSON(clientJSON, gsheet.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse OAuth client credentials: %w", err)
	}

	tokenJSON, err := loadCredential(cfg.GoogleOAuthTokenJSON, cfg.GoogleOAuthTokenFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load OAuth token: %w", err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(tokenJSON, &token); err != nil {
		return nil, fmt.Errorf("failed to parse OAuth token: %w", err)
	}

	svc, err := gsheet.NewService(ctx, option.WithHTTPClient(oauthCfg.Client(ctx, &token)))
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return svc, nil
}

// loadCredential prefers inline JSON over a file path.
func loadCredential(inline, file string) ([]byte, error) {
	if strings.TrimSpace(inline) != "" {
		return []byte(inline), nil
	}
	if strings.TrimSpace(file) != "" {
		return os.ReadFile(file)
	}
	return nil, errors.New("no inline JSON or file path set")
}

func (t *Target) Name() string { return "sheets" }

// AppendExpense writes one interchange row into the next free row of the
// sheet. An empty sheet gets the header first. The returned reference is
// the written range, e.g. "Expenses!A5:F5".
func (t *Target) AppendExpense(ctx context.Context, trip core.Trip, e core.Expense) (string, error) {
	if t.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	resp, err := t.svc.Spreadsheets.Values.Get(t.spreadsheetID, fmt.Sprintf("%s!A:A", t.sheetName)).
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to get sheet dimensions for %s: %w", t.sheetName, err)
	}

	nextRow := len(resp.Values) + 1
	if nextRow == 1 {
		if err := t.writeRow(ctx, 1, toRow(export.Header())); err != nil {
			return "", fmt.Errorf("failed to write header row: %w", err)
		}
		nextRow = 2
	}

	if err := t.writeRow(ctx, nextRow, toRow(export.EncodeRecord(trip.Name, e))); err != nil {
		return "", fmt.Errorf("failed to append expense to %s: %w", t.sheetName, err)
	}
	return t.rowRange(nextRow), nil
}

func (t *Target) writeRow(ctx context.Context, row int, values []any) error {
	vr := &gsheet.ValueRange{Values: [][]any{values}}
	_, err := t.svc.Spreadsheets.Values.Update(t.spreadsheetID, t.rowRange(row), vr).
		ValueInputOption("USER_ENTERED").
		Context(ctx).Do()
	return err
}

func (t *Target) rowRange(row int) string {
	return fmt.Sprintf("%s!A%d:F%d", t.sheetName, row, row)
}

func toRow(record []string) []any {
	row := make([]any, len(record))
	for i, v := range record {
		row[i] = v
	}
	return row
}
