// Package sending defines the contracts for email delivery through ESPs and
// for admission control in front of them.
//
// Each ESP (SES, Mailgun) implements the Sender interface. The dispatcher
// consults an AdmissionGuard before every transport call so provider rate
// limits and daily quotas are enforced across all dispatcher instances.
package sending

import (
	"context"
	"time"

	"github.com/tavari/mail-engine/internal/domain"
)

// Sender sends a single email through an ESP. Implementations must be
// safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error)
}

// Admission is the guard's verdict for one prospective send.
// When Allowed is false, Wait is how long until the send could be admitted:
// the time to the next bucket token, or to the daily-quota window rolling.
type Admission struct {
	Allowed bool
	Wait    time.Duration
}

// AdmissionGuard gates send attempts against the provider's sustained rate
// and daily quota. Admit consumes a rate token only when it admits; the
// daily counter is advanced separately by RecordAttempt, exactly once per
// attempt that actually reaches the transport, success or failure.
type AdmissionGuard interface {
	Admit(ctx context.Context) (Admission, error)
	RecordAttempt(ctx context.Context) error
}
