package issuance

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// DefaultSheetName is the tab the ledger is published to.
const DefaultSheetName = "Issued Keys"

// Publisher mirrors the ledger into a Google Sheet.
type Publisher struct {
	svc     *sheets.Service
	sheetID string
	sheet   string
}

// NewPublisher creates a Sheets client. Pass option.WithCredentialsJSON or
// option.WithCredentialsFile for a service account.
func NewPublisher(ctx context.Context, sheetID, sheet string, opts ...option.ClientOption) (*Publisher, error) {
	if sheetID == "" {
		return nil, fmt.Errorf("sheet id is required")
	}
	if sheet == "" {
		sheet = DefaultSheetName
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return &Publisher{svc: svc, sheetID: sheetID, sheet: sheet}, nil
}

// Publish clears the sheet and writes a header plus one row per entry.
// It returns the number of rows written, header excluded.
func (p *Publisher) Publish(ctx context.Context, entries []Entry, now time.Time) (int, error) {
	if _, err := p.svc.Spreadsheets.Values.Clear(p.sheetID, p.sheet, &sheets.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return 0, fmt.Errorf("failed to clear sheet: %w", err)
	}

	values := make([][]interface{}, 0, len(entries)+1)
	values = append(values, *toCells(exportHeader))
	for _, e := range entries {
		values = append(values, *toCells(exportRow(e, now)))
	}

	rng := fmt.Sprintf("%s!A1", p.sheet)
	if _, err := p.svc.Spreadsheets.Values.Update(p.sheetID, rng, &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return 0, fmt.Errorf("failed to update sheet: %w", err)
	}
	return len(entries), nil
}
