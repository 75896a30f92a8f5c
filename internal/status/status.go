// Package status defines the delivery lifecycle of a cached message and
// the cache-vs-server sync states, with the transition rules between them.
package status

import (
	"fmt"
	"slices"
	"strings"
)

// Status is a message delivery state.
type Status string

const (
	Pending   Status = "PENDING"
	Sent      Status = "SENT"
	Delivered Status = "DELIVERED"
	Read      Status = "READ"
	Failed    Status = "FAILED"
)

// SyncStatus describes cache-vs-server agreement for one row,
// independent of the delivery Status.
type SyncStatus string

const (
	SyncSynced  SyncStatus = "SYNCED"
	SyncPending SyncStatus = "PENDING"
	SyncFailed  SyncStatus = "FAILED"
)

// validTransitions defines the allowed delivery-state moves. Failed to
// Pending is the explicit resend edge; everything else only advances.
var validTransitions = map[Status][]Status{
	Pending:   {Sent, Delivered, Read, Failed},
	Sent:      {Delivered, Read, Failed},
	Delivered: {Read},
	Read:      {},
	Failed:    {Pending},
}

// rank orders the forward lifecycle. Failed sits outside the ordering.
var rank = map[Status]int{
	Pending:   0,
	Sent:      1,
	Delivered: 2,
	Read:      3,
}

// TransitionError reports a rejected state move.
type TransitionError struct {
	From, To Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

// Valid reports whether s is a known delivery status.
func (s Status) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

// Parse converts an inbound status string (any case) to a Status.
func Parse(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown message status %q", s)
	}
	return st, nil
}

// CanAdvance reports whether moving from one status to to is allowed.
// Repeating the current status is allowed and means "no change": late
// duplicate confirmations are common and must not error.
func CanAdvance(from, to Status) bool {
	if from == to {
		return true
	}
	return slices.Contains(validTransitions[from], to)
}

// Advance validates a transition and returns the resulting status.
// A repeated status returns unchanged with no error.
func Advance(from, to Status) (Status, error) {
	if !CanAdvance(from, to) {
		return from, &TransitionError{From: from, To: to}
	}
	return to, nil
}

// Merge picks the more advanced of two delivery states. Server batches
// can arrive out of order; a row already marked READ never regresses to
// DELIVERED because an older batch replayed.
func Merge(local, remote Status) Status {
	if local == Failed {
		// Failed is sticky until an explicit resend, unless the server
		// confirmed what we thought failed.
		if remote != Failed {
			return remote
		}
		return Failed
	}
	if remote == Failed {
		// Failed is only reachable from PENDING or SENT. A row the
		// server already confirmed delivered cannot fail afterwards;
		// such a record is a stale replay and loses.
		if rank[local] >= rank[Delivered] {
			return local
		}
		return Failed
	}
	if rank[remote] > rank[local] {
		return remote
	}
	return local
}
