package exchange

import (
	"context"
	"fmt"
	"time"
)

// Record is the durable log entry for one completed exchange. The store
// assigns ID and Timestamp inside Append; callers never set them. A record is
// only ever constructed after both generation stages succeed, so all four
// text fields are non-empty by the time one exists. Records are immutable.
type Record struct {
	ID             int64     `json:"id"`
	UserQuery      string    `json:"user_query"`
	RefinedQuery   string    `json:"refined_query"`
	Answer         string    `json:"answer"`
	ConversationID string    `json:"conversation_id"`
	Timestamp      time.Time `json:"timestamp"`
}

// Store is an append-only log of completed exchanges.
//
// Append is atomic: concurrent appends must not interleave partial writes,
// and ids are monotonic with timestamps non-decreasing within one store.
// List returns records newest first; an empty conversationID means no filter,
// and limit/offset apply after filtering.
type Store interface {
	Append(ctx context.Context, record Record) (Record, error)
	List(ctx context.Context, conversationID string, limit, offset int) ([]Record, error)
	Count(ctx context.Context, conversationID string) (int64, error)
	Close() error
}

// PersistenceError reports a failed storage commit, or a rollback failure
// after a failed commit. Rollback failures are reported, never swallowed.
type PersistenceError struct {
	Op          string
	Err         error
	RollbackErr error
}

func (e *PersistenceError) Error() string {
	if e.RollbackErr != nil {
		return fmt.Sprintf("%s: %v (rollback also failed: %v)", e.Op, e.Err, e.RollbackErr)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
