// Package reports builds spreadsheet exports for administrators.
package reports

import (
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/angelmondragon/coursepay-backend/internal/enrollments"
	pkgerrors "github.com/angelmondragon/coursepay-backend/pkg/errors"
)

const (
	ContentType     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	EnrollmentSheet = "Enrollments"
)

var enrollmentHeader = []any{
	"Enrollment ID",
	"Student",
	"Email",
	"Course",
	"Status",
	"Plan",
	"Start",
	"End",
	"Price",
	"Currency",
	"Payment ID",
	"Created",
}

// EnrollmentsXLSX writes rows to a single-sheet workbook with a frozen,
// bold header row.
func EnrollmentsXLSX(rows []enrollments.ReportRow) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", EnrollmentSheet); err != nil {
		return nil, wrap(err, "rename sheet")
	}
	if err := f.SetSheetRow(EnrollmentSheet, "A1", &enrollmentHeader); err != nil {
		return nil, wrap(err, "write header")
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, wrap(err, "create header style")
	}
	if err := f.SetCellStyle(EnrollmentSheet, "A1", "L1", bold); err != nil {
		return nil, wrap(err, "style header")
	}
	if err := f.SetColWidth(EnrollmentSheet, "A", "L", 22); err != nil {
		return nil, wrap(err, "set column width")
	}
	if err := f.SetPanes(EnrollmentSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, wrap(err, "freeze header")
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, wrap(err, "resolve cell")
		}
		paymentID := ""
		if row.PaymentID != nil {
			paymentID = row.PaymentID.String()
		}
		values := []any{
			row.EnrollmentID.String(),
			row.StudentName,
			row.StudentEmail,
			row.CourseName,
			string(row.Status),
			string(row.PlanType),
			row.StartDate.Format(time.DateOnly),
			row.EndDate.Format(time.DateOnly),
			row.PriceSnapshot,
			row.Currency,
			paymentID,
			row.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := f.SetSheetRow(EnrollmentSheet, cell, &values); err != nil {
			return nil, wrap(err, "write row")
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, wrap(err, "encode workbook")
	}
	return buf.Bytes(), nil
}

func wrap(err error, msg string) error {
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, msg)
}
