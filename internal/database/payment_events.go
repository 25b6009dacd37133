package database

import (
	"context"
	"fmt"
	"time"

	"mydraws-credits-go/internal/models"
)

// RecordPaymentEvent upserts the audit row for a provider notification.
// Redeliveries bump the counter; an applied outcome is never overwritten.
func (s *Service) RecordPaymentEvent(ctx context.Context, event models.PaymentEvent) error {
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, queryRecordPaymentEvent,
		event.Provider, event.ProviderEventId, event.AccountId, event.CreditAmount,
		event.Outcome, event.Detail, event.ReceivedAt)
	if err != nil {
		return fmt.Errorf("failed to record payment event: %w", err)
	}
	return nil
}
