package scheduler

import (
	"context"
	"time"

	"github.com/mattjoyce/runnerd/internal/journal"
)

//go:generate mockgen -destination=mocks/mock_journal.go -package=mocks github.com/mattjoyce/runnerd/internal/scheduler JournalService

// Target receives messages delivered by the clock or ticker. Tell must not
// block; it returns false when the target no longer accepts messages.
type Target interface {
	Tell(msg any) bool
}

// Timer is a pending one-shot delivery.
type Timer interface {
	Stop() bool
}

// JournalService defines the journal operations used by the maintenance loop.
type JournalService interface {
	FindByStatus(ctx context.Context, status journal.Status) ([]*journal.Entry, error)
	MarkAbandoned(ctx context.Context, runnerID, reason string) error
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}
