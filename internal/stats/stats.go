// Package stats holds the process-wide live counters exposed by the admin
// API. Counters are plain atomics so the session and application hot paths
// never contend on a lock to record an event.
package stats

import "sync/atomic"

// Counters accumulates lifecycle and traffic totals across all listeners.
// The zero value is ready to use.
type Counters struct {
	SessionsOpened atomic.Int64 // OnOpen deliveries
	SessionsClosed atomic.Int64 // OnClose plus OnError deliveries
	MessagesIn     atomic.Int64 // frames delivered to OnMessage
	MessagesOut    atomic.Int64 // frames enqueued by applications
}

// Snapshot is a point-in-time copy of the counters, JSON-shaped for the
// admin API.
type Snapshot struct {
	SessionsOpen   int64 `json:"sessions_open"`
	SessionsOpened int64 `json:"sessions_opened"`
	MessagesIn     int64 `json:"messages_in"`
	MessagesOut    int64 `json:"messages_out"`
}

// Snapshot returns the current totals. SessionsOpen is derived as
// opened minus closed and can briefly run ahead of reality while a close is
// being recorded.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		SessionsOpen:   c.SessionsOpened.Load() - c.SessionsClosed.Load(),
		SessionsOpened: c.SessionsOpened.Load(),
		MessagesIn:     c.MessagesIn.Load(),
		MessagesOut:    c.MessagesOut.Load(),
	}
}
