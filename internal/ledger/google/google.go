package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"fibudget/internal/core"
	"fibudget/internal/ledger"
)

const defaultCacheDuration = 30 * time.Second

// Client reads a ledger tab laid out as ledger.LedgerHeader and writes budget
// rows back to it. Non-default versions live in tabs named "<base> <version>".
type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	ledgerBase    string

	mu                 sync.Mutex
	cacheValidDuration time.Duration
	cache              map[string]cachedSheet
}

type cachedSheet struct {
	rows      [][]string
	expiresAt time.Time
}

// Ensure interface conformance
var (
	_ ledger.LineItemReader = (*Client)(nil)
	_ ledger.BudgetWriter   = (*Client)(nil)
)

// NewFromEnv creates a Sheets client using environment variables.
// Required: GOOGLE_SPREADSHEET_ID
// Optional: GOOGLE_LEDGER_SHEET_NAME (default "Ledger")
// Credentials: GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or
// GOOGLE_APPLICATION_CREDENTIALS.
func NewFromEnv(ctx context.Context) (*Client, error) {
	spreadsheetID := strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID"))
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	base := strings.TrimSpace(os.Getenv("GOOGLE_LEDGER_SHEET_NAME"))
	if base == "" {
		base = "Ledger"
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return NewWithService(svc, spreadsheetID, base), nil
}

// NewWithService wraps an existing Sheets service.
func NewWithService(svc *gsheet.Service, spreadsheetID, ledgerBase string) *Client {
	return &Client{
		svc:                svc,
		spreadsheetID:      spreadsheetID,
		ledgerBase:         ledgerBase,
		cacheValidDuration: defaultCacheDuration,
		cache:              map[string]cachedSheet{},
	}
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		b, err := os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	slog.InfoContext(ctx, "Creating Google Sheets service with Service Account",
		"credentials_size", len(credentialsJSON),
		"scope", gsheet.SpreadsheetsScope)

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// ReadLineItems reads the version tab and keeps the items below prefix.
func (c *Client) ReadLineItems(ctx context.Context, prefix, version string) ([]core.LineItem, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	sheet := c.sheetName(version)
	rows, err := c.cachedRows(ctx, sheet)
	if err != nil {
		return nil, err
	}
	items, err := ledger.ParseLedgerRows(rows)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", sheet, err)
	}
	prefix = core.CleanPath(prefix)
	out := items[:0]
	for _, li := range items {
		if core.HasPathPrefix(li.Path, prefix) {
			out = append(out, li)
		}
	}
	return out, nil
}

// SaveBudget updates the budget row of itemID, keeping the periods not in
// values. When the tab has no budget row for the item one is appended, copying
// path and name from any other row of the same item.
func (c *Client) SaveBudget(ctx context.Context, itemID, version string, values core.PeriodMap) error {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return core.ErrEmptyLineItemID
	}
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	sheet := c.sheetName(version)
	defer c.invalidate(sheet)

	rows, err := c.readRows(ctx, sheet)
	if err != nil {
		return err
	}

	rowIdx, path, name := -1, "", ""
	for i, row := range rows {
		if strings.TrimSpace(cell(row, ledger.ColID)) != itemID {
			continue
		}
		if path == "" {
			path, name = cell(row, ledger.ColPath), cell(row, ledger.ColName)
		}
		if m, ok := ledger.ParseMetric(cell(row, ledger.ColMetric)); ok && m == core.MetricBudget {
			rowIdx = i
			break
		}
	}

	periods := make([]any, core.MonthsPerYear)
	for m, p := range core.Periods {
		if v, ok := values[p]; ok {
			periods[m] = v
		} else if rowIdx >= 0 {
			periods[m] = core.ParseStringOrZero(cell(rows[rowIdx], ledger.ColFirstPeriod+m))
		} else {
			periods[m] = 0.0
		}
	}

	if rowIdx >= 0 {
		sheetRow := rowIdx + 1
		rng := fmt.Sprintf("%s!E%d:P%d", sheet, sheetRow, sheetRow)
		vr := &gsheet.ValueRange{Values: [][]any{periods}}
		_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
			ValueInputOption("RAW").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("update %s: %w", rng, err)
		}
		return nil
	}

	if path == "" {
		slog.WarnContext(ctx, "Appending budget row for unknown line item", "line_item_id", itemID, "sheet", sheet)
	}
	row := append([]any{path, itemID, name, string(core.MetricBudget)}, periods...)
	rng := fmt.Sprintf("%s!A:P", sheet)
	_, err = c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, &gsheet.ValueRange{Values: [][]any{row}}).
		ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append %s: %w", rng, err)
	}
	return nil
}

func (c *Client) sheetName(version string) string {
	version = strings.TrimSpace(version)
	if version == "" || version == core.DefaultVersion {
		return c.ledgerBase
	}
	return fmt.Sprintf("%s %s", c.ledgerBase, version)
}

func (c *Client) cachedRows(ctx context.Context, sheet string) ([][]string, error) {
	c.mu.Lock()
	if cs, ok := c.cache[sheet]; ok && time.Now().Before(cs.expiresAt) {
		c.mu.Unlock()
		return cs.rows, nil
	}
	c.mu.Unlock()

	rows, err := c.readRows(ctx, sheet)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.cache == nil {
		c.cache = map[string]cachedSheet{}
	}
	c.cache[sheet] = cachedSheet{rows: rows, expiresAt: time.Now().Add(c.cacheValidDuration)}
	c.mu.Unlock()
	return rows, nil
}

func (c *Client) invalidate(sheet string) {
	c.mu.Lock()
	delete(c.cache, sheet)
	c.mu.Unlock()
}

func (c *Client) readRows(ctx context.Context, sheet string) ([][]string, error) {
	rng := fmt.Sprintf("%s!A:P", sheet)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	rows := make([][]string, len(resp.Values))
	for i, row := range resp.Values {
		rows[i] = toStrings(row)
	}
	return rows, nil
}

func toStrings(in []interface{}) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}
