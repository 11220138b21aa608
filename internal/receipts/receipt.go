// Package receipts renders payment receipts as PDF documents.
package receipts

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/angelmondragon/coursepay-backend/internal/payments"
	pkgerrors "github.com/angelmondragon/coursepay-backend/pkg/errors"
)

const ContentType = "application/pdf"

type Renderer struct {
	issuer string
}

// NewRenderer builds a renderer that prints issuer in the receipt header.
func NewRenderer(issuer string) *Renderer {
	if issuer == "" {
		issuer = "CoursePay"
	}
	return &Renderer{issuer: issuer}
}

// Filename is the attachment name used for a receipt download.
func Filename(data *payments.ReceiptData) string {
	return fmt.Sprintf("receipt-%s.pdf", data.Payment.ID.String())
}

func (r *Renderer) Render(data *payments.ReceiptData) ([]byte, error) {
	if data == nil || data.Payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "receipt data required")
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(tr("Payment receipt"), false)
	pdf.SetCreator(tr(r.issuer), false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 10, tr(r.issuer), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 12)
	pdf.CellFormat(0, 8, tr("Payment receipt"), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	payment := data.Payment
	rows := [][2]string{
		{"Receipt number", payment.ID.String()},
		{"Issued", data.IssuedAt.Format(time.RFC1123)},
		{"Status", string(payment.Status)},
		{"Amount", fmt.Sprintf("%s %s", payment.Amount.StringFixed(2), payment.Currency)},
		{"Gateway", string(payment.Gateway)},
	}
	if payment.GatewayReference != nil {
		rows = append(rows, [2]string{"Gateway reference", *payment.GatewayReference})
	}
	if payment.CompletedAt != nil {
		rows = append(rows, [2]string{"Paid at", payment.CompletedAt.UTC().Format(time.RFC1123)})
	}
	if payment.RefundedAt != nil {
		rows = append(rows, [2]string{"Refunded at", payment.RefundedAt.UTC().Format(time.RFC1123)})
	}
	if data.User != nil {
		rows = append(rows,
			[2]string{"Student", data.User.FullName},
			[2]string{"Email", data.User.Email},
		)
	}
	if data.Course != nil {
		rows = append(rows, [2]string{"Course", data.Course.Name})
	}
	if e := data.Enrollment; e != nil {
		rows = append(rows,
			[2]string{"Plan", string(e.PlanType)},
			[2]string{"Access", fmt.Sprintf("%s to %s", e.StartDate.Format(time.DateOnly), e.EndDate.Format(time.DateOnly))},
			[2]string{"Enrollment status", string(e.Status)},
		)
	}

	for _, row := range rows {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(50, 8, tr(row[0]), "B", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		pdf.CellFormat(0, 8, tr(row[1]), "B", 1, "L", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "render receipt")
	}
	return buf.Bytes(), nil
}
