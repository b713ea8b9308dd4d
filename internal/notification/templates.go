package notification

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/sakashimaa/payment-recon/internal/domain"
)

// Rendering is template-driven and deterministic: the same event always
// produces the same subject and body, which keeps retried deliveries
// identical to the first attempt.

type renderedMessage struct {
	Subject string
	Body    string
}

var templateFuncs = template.FuncMap{
	// money formats a minor-unit amount, e.g. 12345 -> "123.45".
	"money": func(amount int64) string {
		return fmt.Sprintf("%d.%02d", amount/100, amount%100)
	},
}

func mustTemplate(name, text string) *template.Template {
	return template.Must(template.New(name).Funcs(templateFuncs).Parse(text))
}

var emailTemplates = map[domain.EventKind]*template.Template{
	domain.EventOrderConfirmed: mustTemplate("order-confirmed",
		"Your order #{{.OrderID}} at {{.BusinessName}} is confirmed.\n"+
			"Amount paid: {{money .Amount}}.\n"+
			"We'll let you know when it's being prepared.",
	),
	domain.EventOrderRejected: mustTemplate("order-rejected",
		"Payment for order #{{.OrderID}} at {{.BusinessName}} was declined.\n"+
			"The order has been cancelled. No charge was made.",
	),
	domain.EventOrderRefunded: mustTemplate("order-refunded",
		"Order #{{.OrderID}} at {{.BusinessName}} was refunded.\n"+
			"{{money .Amount}} is on its way back to your payment method."+
			"{{if .ManualReview}}\nNote: the order had already entered fulfillment, our team will contact you.{{end}}",
	),
	domain.EventOrderStatusChanged: mustTemplate("order-status-changed",
		"Order #{{.OrderID}} at {{.BusinessName}} is now {{.OrderStatus}}.",
	),
}

var emailSubjects = map[domain.EventKind]string{
	domain.EventOrderConfirmed:     "Order #%d confirmed",
	domain.EventOrderRejected:      "Order #%d payment declined",
	domain.EventOrderRefunded:      "Order #%d refunded",
	domain.EventOrderStatusChanged: "Order #%d update",
}

var pushBodies = map[domain.EventKind]string{
	domain.EventOrderConfirmed:     "Order #%d confirmed, payment received",
	domain.EventOrderRejected:      "Order #%d cancelled, payment declined",
	domain.EventOrderRefunded:      "Order #%d refunded",
	domain.EventOrderStatusChanged: "Order #%d is now %s",
}

func renderEmail(event *domain.DomainEvent) (renderedMessage, error) {
	tmpl, ok := emailTemplates[event.Kind]
	if !ok {
		return renderedMessage{}, fmt.Errorf("%w: no email template for %s", ErrPermanent, event.Kind)
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, event); err != nil {
		return renderedMessage{}, fmt.Errorf("%w: render %s: %v", ErrPermanent, event.Kind, err)
	}

	return renderedMessage{
		Subject: fmt.Sprintf(emailSubjects[event.Kind], event.OrderID),
		Body:    sb.String(),
	}, nil
}

func renderPush(event *domain.DomainEvent) (renderedMessage, error) {
	body, ok := pushBodies[event.Kind]
	if !ok {
		return renderedMessage{}, fmt.Errorf("%w: no push template for %s", ErrPermanent, event.Kind)
	}

	rendered := renderedMessage{Subject: event.BusinessName}
	if event.Kind == domain.EventOrderStatusChanged {
		rendered.Body = fmt.Sprintf(body, event.OrderID, event.OrderStatus)
	} else {
		rendered.Body = fmt.Sprintf(body, event.OrderID)
	}

	return rendered, nil
}
