package notifications

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/coursepay-backend/pkg/outbox"
)

const dateLayout = "2006-01-02"

var confirmationHTML = template.Must(template.New("confirmation").Parse(`<p>Hi {{.Name}},</p>
<p>Your payment was confirmed and you are now enrolled in <strong>{{.Course}}</strong>.</p>
<table>
<tr><td>Plan</td><td>{{.Plan}}</td></tr>
<tr><td>Access</td><td>{{.Start}} to {{.End}}</td></tr>
<tr><td>Amount</td><td>{{.Amount}} {{.Currency}}</td></tr>
</table>
<p>{{.Sender}}</p>
`))

type confirmationView struct {
	Name     string
	Course   string
	Plan     string
	Start    string
	End      string
	Amount   string
	Currency string
	Sender   string
}

func renderEnrollmentConfirmation(event outbox.EnrollmentActivatedEvent, sender string) (Message, error) {
	name := strings.TrimSpace(event.UserName)
	if name == "" {
		name = "student"
	}
	amount := event.PriceSnapshot
	if d, err := decimal.NewFromString(event.PriceSnapshot); err == nil {
		amount = d.StringFixedBank(2)
	}
	view := confirmationView{
		Name:     name,
		Course:   event.CourseName,
		Plan:     string(event.PlanType),
		Start:    event.StartDate.UTC().Format(dateLayout),
		End:      event.EndDate.UTC().Format(dateLayout),
		Amount:   amount,
		Currency: event.Currency,
		Sender:   sender,
	}

	var html bytes.Buffer
	if err := confirmationHTML.Execute(&html, view); err != nil {
		return Message{}, fmt.Errorf("render confirmation: %w", err)
	}

	text := fmt.Sprintf(
		"Hi %s,\n\nYour payment was confirmed and you are now enrolled in %s.\nPlan: %s\nAccess: %s to %s\nAmount: %s %s\n\n%s\n",
		view.Name, view.Course, view.Plan, view.Start, view.End, view.Amount, view.Currency, view.Sender,
	)

	return Message{
		ToEmail: event.UserEmail,
		ToName:  strings.TrimSpace(event.UserName),
		Subject: fmt.Sprintf("[%s] Enrollment confirmed: %s", sender, event.CourseName),
		Text:    text,
		HTML:    html.String(),
	}, nil
}
