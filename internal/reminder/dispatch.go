package reminder

import (
	"context"
	"fmt"

	"greenthumb/internal/domain"
	"greenthumb/internal/mailer"
	"greenthumb/pkg/logx"
)

// Dispatcher composes and sends a single notification per call.
// It performs exactly one delivery attempt and never retries; containing a
// failure to the record it belongs to is the caller's job.
type Dispatcher struct {
	sender mailer.Sender
	log    logx.Logger
}

func NewDispatcher(sender mailer.Sender, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{sender: sender, log: log}
}

// Dispatch renders the template for kind and sends it to the user.
func (d *Dispatcher) Dispatch(ctx context.Context, user domain.User, kind mailer.Kind, data any) error {
	msg, err := mailer.Compose(kind, data)
	if err != nil {
		return err
	}
	if err := d.sender.Send(ctx, user.Email, msg.Subject, msg.HTML); err != nil {
		return fmt.Errorf("dispatch %s to user %d: %w", kind, user.ID, err)
	}
	return nil
}
