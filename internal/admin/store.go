// Package admin provides the HTTP admin/API surface for the relay server: a
// chi router with a liveness probe, archived chat history, and live traffic
// counters, optionally protected by RS256 bearer authentication.
package admin

import (
	"context"

	"github.com/relaykit/relay/internal/history"
)

// HistoryStore is the subset of the archive used by the admin handlers.
// Defining an interface here allows handlers to be tested with a mock store
// without a live database.
type HistoryStore interface {
	// RecentMessages returns up to limit messages for room in chronological
	// order (oldest first).
	RecentMessages(ctx context.Context, room string, limit int) ([]history.Message, error)
}
