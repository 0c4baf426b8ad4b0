package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/googleapi"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"kesefly/internal/log"
	"kesefly/internal/sheets"
)

type Config struct {
	SpreadsheetID string
	// SheetName is the base name; the entry's year is prefixed, e.g.
	// "2025 Ledger".
	SheetName       string
	CredentialsFile string
	CredentialsJSON string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetBase     string
	logger        *log.Logger

	mu      sync.Mutex
	headers map[string]bool
}

var _ sheets.LedgerMirror = (*Client)(nil)

// New creates a Sheets client authenticated with a service account. Extra
// options are appended after the credentials.
func New(ctx context.Context, cfg Config, logger *log.Logger, opts ...goption.ClientOption) (*Client, error) {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentSheets)
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	base := strings.TrimSpace(cfg.SheetName)
	if base == "" {
		base = "Ledger"
	}

	svc, err := newSheetsService(ctx, cfg, logger, opts)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &Client{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		sheetBase:     base,
		logger:        logger,
		headers:       make(map[string]bool),
	}, nil
}

// newSheetsService reads the service account from inline JSON, a file or
// GOOGLE_APPLICATION_CREDENTIALS, in that order. Callers passing their own
// options (tests, emulators) may skip credentials entirely.
func newSheetsService(ctx context.Context, cfg Config, logger *log.Logger, extra []goption.ClientOption) (*gsheet.Service, error) {
	credsJSON := strings.TrimSpace(cfg.CredentialsJSON)
	credsFile := strings.TrimSpace(cfg.CredentialsFile)
	if credsJSON == "" && credsFile == "" {
		credsFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var opts []goption.ClientOption
	switch {
	case credsJSON != "":
		logger.DebugContext(ctx, "Using inline service account credentials")
		opts = append(opts, goption.WithCredentialsJSON([]byte(credsJSON)))
	case credsFile != "":
		data, err := os.ReadFile(credsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		logger.DebugContext(ctx, "Read service account credentials", "path", credsFile, "size", len(data))
		opts = append(opts, goption.WithCredentialsJSON(data))
	case len(extra) == 0:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_APPLICATION_CREDENTIALS)")
	}
	opts = append(opts, goption.WithScopes(gsheet.SpreadsheetsScope))
	opts = append(opts, extra...)

	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	logger.InfoContext(ctx, "Google Sheets service created")
	return svc, nil
}

// AppendEntry appends the entry to the sheet of its year. The first write
// of a process to a sheet that is still empty adds the header row.
func (c *Client) AppendEntry(ctx context.Context, e sheets.Entry) (string, error) {
	if err := e.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", sheets.ErrPermanent, err)
	}
	sheet := yearPrefixedName(c.sheetBase, e.Date.Year())
	if err := c.ensureHeader(ctx, sheet); err != nil {
		return "", err
	}

	start := time.Now()
	rng := fmt.Sprintf("%s!A:J", sheet)
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, &gsheet.ValueRange{Values: [][]any{e.Row()}}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", classify(fmt.Errorf("append to %s: %w", sheet, err))
	}

	ref := rng
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		ref = resp.Updates.UpdatedRange
	}
	c.logger.DebugContext(ctx, "Appended ledger row",
		log.FieldSheetsRef, ref,
		log.FieldItemID, e.ID,
		"duration_ms", time.Since(start).Milliseconds())
	return ref, nil
}

func (c *Client) ensureHeader(ctx context.Context, sheet string) error {
	c.mu.Lock()
	done := c.headers[sheet]
	c.mu.Unlock()
	if done {
		return nil
	}

	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, sheet+"!A1:J1").Context(ctx).Do()
	if err != nil {
		return classify(fmt.Errorf("read header of %s: %w", sheet, err))
	}
	if len(resp.Values) == 0 {
		_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, sheet+"!A1:J1", &gsheet.ValueRange{Values: [][]any{sheets.Header}}).
			ValueInputOption("RAW").Context(ctx).Do()
		if err != nil {
			return classify(fmt.Errorf("write header of %s: %w", sheet, err))
		}
		c.logger.InfoContext(ctx, "Initialised ledger sheet", "sheet", sheet)
	}

	c.mu.Lock()
	c.headers[sheet] = true
	c.mu.Unlock()
	return nil
}

// classify marks client errors other than throttling as permanent.
func classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code >= 400 && gerr.Code < 500 && gerr.Code != http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", sheets.ErrPermanent, err)
	}
	return err
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
