package signal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/segyhp/dunning-engine/internal/domain"
	"github.com/segyhp/dunning-engine/internal/service"
	customError "github.com/segyhp/dunning-engine/pkg/errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindPaymentSucceeded Kind = "payment_succeeded"
	KindPaymentFailed    Kind = "payment_failed"
)

// Signal is one outcome reported by the transaction processor.
type Signal struct {
	Kind           Kind
	ObligationID   uuid.UUID
	Amount         decimal.Decimal
	TransactionRef string
	Reason         string
}

// PaymentHandler is what signals are dispatched to.
type PaymentHandler interface {
	ApplyPayment(ctx context.Context, confirmation domain.PaymentConfirmation, now time.Time) (*service.PaymentResult, error)
	RecordFailure(ctx context.Context, obligationID uuid.UUID, reason string, now time.Time) (*domain.Obligation, error)
}

// Parse decodes stream fields: type, obligation_id, amount, transaction_ref and, for
// failures, reason.
func Parse(values map[string]interface{}) (Signal, error) {
	var s Signal

	s.Kind = Kind(field(values, "type"))
	switch s.Kind {
	case KindPaymentSucceeded, KindPaymentFailed:
	default:
		return Signal{}, customError.WrapValidation(fmt.Sprintf("unknown signal type %q", s.Kind), nil)
	}

	id, err := uuid.Parse(field(values, "obligation_id"))
	if err != nil {
		return Signal{}, customError.WrapValidation("invalid obligation_id", err)
	}
	s.ObligationID = id

	s.TransactionRef = field(values, "transaction_ref")
	s.Reason = field(values, "reason")

	if raw := field(values, "amount"); raw != "" {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return Signal{}, customError.WrapValidation("invalid amount", err)
		}
		s.Amount = amount
	}
	if s.Kind == KindPaymentSucceeded && s.TransactionRef == "" {
		return Signal{}, customError.WrapValidation("transaction_ref is required", nil)
	}
	return s, nil
}

func field(values map[string]interface{}, key string) string {
	v, ok := values[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// Dispatch routes the signal to the payment handler.
func Dispatch(ctx context.Context, h PaymentHandler, s Signal, now time.Time) error {
	switch s.Kind {
	case KindPaymentSucceeded:
		_, err := h.ApplyPayment(ctx, domain.PaymentConfirmation{
			ObligationID:   s.ObligationID,
			Amount:         s.Amount,
			TransactionRef: s.TransactionRef,
		}, now)
		return err
	case KindPaymentFailed:
		reason := s.Reason
		if reason == "" {
			reason = "unspecified"
		}
		_, err := h.RecordFailure(ctx, s.ObligationID, reason, now)
		return err
	}
	return customError.WrapValidation(fmt.Sprintf("unknown signal type %q", s.Kind), nil)
}

// Permanent reports whether redelivering a signal that failed with err can never succeed.
func Permanent(err error) bool {
	return customError.IsValidation(err) || customError.IsNotFound(err) || customError.IsInvariantViolation(err)
}
