package mailer

import (
	"embed"
	"fmt"
	"html/template"
	"strings"

	"greenthumb/internal/domain"
)

// Kind selects which message template a dispatch uses.
type Kind string

const (
	KindWelcome  Kind = "welcome"
	KindReset    Kind = "reset"
	KindReminder Kind = "reminder"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Message is a composed, ready-to-send notification.
type Message struct {
	Subject string
	HTML    string
}

// ReminderData feeds the watering-reminder template.
type ReminderData struct {
	Plant domain.Plant
}

// ResetData feeds the password-reset template. The token is minted by the
// web layer; the mailer only renders it.
type ResetData struct {
	ResetURL string
}

// Compose renders the template for kind with the given data.
// data must match the kind: ReminderData for KindReminder, ResetData for
// KindReset, nil for KindWelcome.
func Compose(kind Kind, data any) (Message, error) {
	var (
		name    string
		subject string
	)
	switch kind {
	case KindWelcome:
		name = "welcome.html"
		subject = "Welcome to GreenThumb!"
	case KindReset:
		name = "reset.html"
		subject = "Reset your GreenThumb password"
	case KindReminder:
		rd, ok := data.(ReminderData)
		if !ok {
			return Message{}, fmt.Errorf("compose %s: want ReminderData, got %T", kind, data)
		}
		name = "reminder.html"
		subject = fmt.Sprintf("Time to water your %s!", rd.Plant.Name)
	default:
		return Message{}, fmt.Errorf("unknown template kind %q", kind)
	}

	var b strings.Builder
	if err := templates.ExecuteTemplate(&b, name, data); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", name, err)
	}
	return Message{Subject: subject, HTML: b.String()}, nil
}
