// Package sheets appends filed items to a Google Sheets ledger.
package sheets

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/linnemanlabs/go-core/log"
)

const (
	// DefaultRange is the sheet and column span rows are appended to.
	DefaultRange = "Library!A:L"

	valueInputOption = "USER_ENTERED"
)

// ErrNoSpreadsheet is returned by New without a spreadsheet id.
var ErrNoSpreadsheet = errors.New("sheets: spreadsheet id is required")

var tracer = otel.Tracer("github.com/filmmaker-og/filmmaker-ogbot/internal/ledger/sheets")

// Ledger implements triage.Ledger over the Sheets values API.
type Ledger struct {
	values        *sheetsapi.SpreadsheetsValuesService
	spreadsheetID string
	rng           string
	logger        log.Logger
}

// New creates a ledger writing to spreadsheetID. Credentials come from opts,
// typically option.WithCredentialsFile for a service account key.
func New(ctx context.Context, spreadsheetID string, logger log.Logger, opts ...option.ClientOption) (*Ledger, error) {
	if spreadsheetID == "" {
		return nil, ErrNoSpreadsheet
	}
	if logger == nil {
		logger = log.Nop()
	}
	opts = append([]option.ClientOption{option.WithScopes(sheetsapi.SpreadsheetsScope)}, opts...)
	svc, err := sheetsapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets: create service: %w", err)
	}
	return &Ledger{
		values:        svc.Spreadsheets.Values,
		spreadsheetID: spreadsheetID,
		rng:           DefaultRange,
		logger:        logger,
	}, nil
}

// Append writes one row.
func (l *Ledger) Append(ctx context.Context, row []string) error {
	ctx, span := tracer.Start(ctx, "sheets.Append",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("sheets.range", l.rng),
			attribute.Int("sheets.columns", len(row)),
		),
	)
	defer span.End()

	cells := make([]any, len(row))
	for i, v := range row {
		cells[i] = v
	}

	_, err := l.values.Append(l.spreadsheetID, l.rng, &sheetsapi.ValueRange{Values: [][]any{cells}}).
		ValueInputOption(valueInputOption).
		Context(ctx).
		Do()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("sheets: append: %w", err)
	}

	if len(row) > 0 {
		l.logger.Info(ctx, "ledger row appended", "item_id", row[0])
	}
	return nil
}
