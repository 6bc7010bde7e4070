package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetAppender writes order rows to the tracking spreadsheet.
type SheetAppender interface {
	Append(ctx context.Context, row []interface{}) error
	// EnsureHeaders writes the header row if the sheet is empty and reports
	// whether it did.
	EnsureHeaders(ctx context.Context) (bool, error)
}

// SheetsAppender targets the first worksheet of a Google spreadsheet.
type SheetsAppender struct {
	service *sheets.Service
	sheetID string
	logger  *logrus.Logger
}

func NewSheetsAppender(ctx context.Context, sheetID string, credentialsJSON []byte, logger *logrus.Logger) (*SheetsAppender, error) {
	if sheetID == "" {
		return nil, errors.New("sheet id not configured")
	}
	if len(credentialsJSON) == 0 {
		return nil, errors.New("service account credentials not configured")
	}

	// Credentials refresh with the context they were built with.
	service, err := sheets.NewService(context.WithoutCancel(ctx),
		option.WithCredentialsJSON(credentialsJSON),
		option.WithScopes(sheets.SpreadsheetsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return newSheetsAppender(service, sheetID, logger), nil
}

func newSheetsAppender(service *sheets.Service, sheetID string, logger *logrus.Logger) *SheetsAppender {
	return &SheetsAppender{service: service, sheetID: sheetID, logger: logger}
}

func (s *SheetsAppender) Append(ctx context.Context, row []interface{}) error {
	vr := &sheets.ValueRange{Values: [][]interface{}{row}}
	_, err := s.service.Spreadsheets.Values.Append(s.sheetID, "A1", vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to append sheet row: %w", err)
	}
	return nil
}

func (s *SheetsAppender) EnsureHeaders(ctx context.Context) (bool, error) {
	existing, err := s.service.Spreadsheets.Values.Get(s.sheetID, "A1:1").Context(ctx).Do()
	if err != nil {
		return false, fmt.Errorf("failed to read header row: %w", err)
	}
	if len(existing.Values) > 0 && len(existing.Values[0]) > 0 {
		s.logger.Info("Sheet headers already exist")
		return false, nil
	}

	header := make([]interface{}, len(Headers))
	for i, h := range Headers {
		header[i] = h
	}
	_, err = s.service.Spreadsheets.Values.Update(s.sheetID, "A1", &sheets.ValueRange{
		Values: [][]interface{}{header},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return false, fmt.Errorf("failed to write header row: %w", err)
	}

	spreadsheet, err := s.service.Spreadsheets.Get(s.sheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return true, fmt.Errorf("failed to read sheet properties: %w", err)
	}
	if len(spreadsheet.Sheets) == 0 {
		return true, nil
	}

	bold := &sheets.Request{
		RepeatCell: &sheets.RepeatCellRequest{
			Range: &sheets.GridRange{
				SheetId:       spreadsheet.Sheets[0].Properties.SheetId,
				StartRowIndex: 0,
				EndRowIndex:   1,
			},
			Cell: &sheets.CellData{
				UserEnteredFormat: &sheets.CellFormat{
					TextFormat: &sheets.TextFormat{Bold: true},
				},
			},
			Fields: "userEnteredFormat.textFormat.bold",
		},
	}
	_, err = s.service.Spreadsheets.BatchUpdate(s.sheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{bold},
	}).Context(ctx).Do()
	if err != nil {
		return true, fmt.Errorf("failed to format header row: %w", err)
	}

	s.logger.WithField("columns", len(Headers)).Info("Sheet headers set up")
	return true, nil
}

var ErrRowNotFound = errors.New("order not found in sheet")

// FindOrder returns the row for orderID keyed by the sheet's own header
// row.
func (s *SheetsAppender) FindOrder(ctx context.Context, orderID string) (map[string]string, error) {
	resp, err := s.service.Spreadsheets.Values.Get(s.sheetID, "A:AC").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet: %w", err)
	}
	row, ok := findRow(resp.Values, orderID)
	if !ok {
		return nil, ErrRowNotFound
	}
	return row, nil
}

// findRow matches the Order ID column. Short rows leave trailing headers
// empty.
func findRow(values [][]interface{}, orderID string) (map[string]string, bool) {
	if len(values) < 2 {
		return nil, false
	}
	header := values[0]
	for _, row := range values[1:] {
		if len(row) < 2 || fmt.Sprint(row[1]) != orderID {
			continue
		}
		out := make(map[string]string, len(header))
		for i, h := range header {
			value := ""
			if i < len(row) {
				value = fmt.Sprint(row[i])
			}
			out[fmt.Sprint(h)] = value
		}
		return out, true
	}
	return nil, false
}

// LogSheet stands in for the spreadsheet when none is configured.
type LogSheet struct {
	logger *logrus.Logger
}

func NewLogSheet(logger *logrus.Logger) *LogSheet {
	return &LogSheet{logger: logger}
}

func (s *LogSheet) Append(ctx context.Context, row []interface{}) error {
	fields := logrus.Fields{"columns": len(row)}
	if len(row) > 1 {
		fields["order_id"] = row[1]
	}
	s.logger.WithFields(fields).Warn("Spreadsheet not configured, skipping row append")
	return nil
}

func (s *LogSheet) EnsureHeaders(ctx context.Context) (bool, error) {
	return false, errors.New("spreadsheet not configured")
}
