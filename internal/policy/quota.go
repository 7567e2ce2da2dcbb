package policy

import (
	"context"
	"fmt"

	"github.com/spec-kit/ticket-lifecycle/internal/config"
	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

// DefaultCategoryCapacity is the chat platform's per-category ceiling.
const DefaultCategoryCapacity = 49

// TicketCounter is the slice of the ticket store the quota policy needs.
type TicketCounter interface {
	CountByTypeAndUser(ctx context.Context, ticketType domain.TicketType, userID string) (int, error)
}

// Quota enforces per-type user limits and category capacity.
type Quota struct {
	limits   map[domain.TicketType]int
	capacity int
}

// NewQuota builds the policy from immutable ticketing config.
func NewQuota(cfg config.TicketingConfig) *Quota {
	limits := make(map[domain.TicketType]int, len(cfg.Types))
	for t, opts := range cfg.Types {
		limits[t] = opts.Limit
	}
	capacity := cfg.CategoryCapacity
	if capacity <= 0 {
		capacity = DefaultCategoryCapacity
	}
	return &Quota{limits: limits, capacity: capacity}
}

// MaxTicketsFor returns the configured limit for the type, zero when unknown.
func (q *Quota) MaxTicketsFor(ticketType domain.TicketType) int {
	return q.limits[ticketType]
}

// CheckUserQuota fails with a QuotaExceededError wrapping ErrMaxUserTickets
// when the user already holds at least the limit of live tickets of the type.
// Elevated actors are exempt; that decision belongs to the caller.
func (q *Quota) CheckUserQuota(ctx context.Context, ticketType domain.TicketType, userID string, counter TicketCounter) error {
	current, err := counter.CountByTypeAndUser(ctx, ticketType, userID)
	if err != nil {
		return fmt.Errorf("count tickets: %w", err)
	}
	limit := q.MaxTicketsFor(ticketType)
	if current >= limit {
		return &domain.QuotaExceededError{
			Type:    ticketType,
			Current: current,
			Limit:   limit,
			Err:     domain.ErrMaxUserTickets,
		}
	}
	return nil
}

// CheckCategoryCapacity fails with ErrMaxChannelTickets when the category
// already holds more channels than the ceiling.
func (q *Quota) CheckCategoryCapacity(channelCount int) error {
	if channelCount > q.capacity {
		return fmt.Errorf("%w: %d channels", domain.ErrMaxChannelTickets, channelCount)
	}
	return nil
}
