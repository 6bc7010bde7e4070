package export

import (
	"fmt"
	"io"
	"time"

	"github.com/jogardn/bespoke-orders/internal/notify"
	"github.com/jogardn/bespoke-orders/pkg/models"
	"github.com/tealeg/xlsx"
)

const SheetName = "Orders"

// WriteOrders writes the orders as an xlsx workbook using the same columns
// as the order tracking sheet.
func WriteOrders(w io.Writer, orders []*models.Order, now time.Time) error {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet(SheetName)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}

	header := sheet.AddRow()
	for _, h := range notify.Headers {
		cell := header.AddCell()
		cell.SetValue(h)
		cell.GetStyle().Font.Bold = true
	}

	for _, o := range orders {
		row := sheet.AddRow()
		for _, v := range notify.Row(*o, o.PaymentID, now) {
			row.AddCell().SetValue(v)
		}
	}

	if err := file.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
