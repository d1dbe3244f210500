// Package relay brokers values between frontend HTTP triggers and blocked
// backend workflow executions. A frontend script deposits a payload keyed by
// node id; a backend call polls until that id (or the wildcard id) has a
// value, or until the run is cancelled.
package relay

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"sn0w/logger"
)

// ErrCancelled is returned by the Wait family when a __cancel__ control
// message has been observed. Callers must unwind the in-progress execution;
// swallowing it leaves the run half-finished.
var ErrCancelled = errors.New("relay: wait cancelled")

const (
	// WildcardID satisfies any waiter that has no exact-id entry.
	WildcardID = "-1"

	cancelSentinel = "__cancel__"
	startSentinel  = "__start__"

	defaultPollInterval = 100 * time.Millisecond
)

// Holder is the process-wide rendezvous point. All mutation goes through it;
// messages, stash and the cancellation flag share one lock so the control
// sentinels reset everything atomically.
type Holder struct {
	mu        sync.Mutex
	messages  map[string]string
	stash     map[string]string
	cancelled bool
	poll      time.Duration
}

// New returns a Holder polling at the given interval. A non-positive
// interval selects the 100ms default.
func New(pollInterval time.Duration) *Holder {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Holder{
		messages: make(map[string]string),
		stash:    make(map[string]string),
		poll:     pollInterval,
	}
}

// Add deposits a value under id, overwriting any prior value (last write
// wins, no queueing). The sentinels change relay mode instead of carrying
// data: __cancel__ drops all pending messages and flags cancellation,
// __start__ resets messages, stash and the flag for a fresh session.
func (h *Holder) Add(id, value string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch value {
	case cancelSentinel:
		h.messages = make(map[string]string)
		h.cancelled = true
		logger.Debug("Relay cancelled, pending messages dropped")
	case startSentinel:
		h.messages = make(map[string]string)
		h.stash = make(map[string]string)
		h.cancelled = false
		logger.Debug("Relay reset for new session")
	default:
		h.messages[id] = value
	}
}

// take pops the value for id, preferring an exact match over the wildcard.
// The cancellation flag is checked first and cleared by the first taker to
// see it (edge-triggered: one __cancel__ fails exactly one waiter).
func (h *Holder) take(id string) (string, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancelled {
		h.cancelled = false
		return "", false, ErrCancelled
	}
	if v, ok := h.messages[id]; ok {
		delete(h.messages, id)
		return v, true, nil
	}
	if v, ok := h.messages[WildcardID]; ok {
		delete(h.messages, WildcardID)
		return v, true, nil
	}
	return "", false, nil
}

// Wait blocks until a value is available for id or the wildcard id, polling
// at the holder's interval. It fails with ErrCancelled when a cancellation is
// observed and with ctx.Err() when the context ends; otherwise an absent
// value blocks indefinitely.
func (h *Holder) Wait(ctx context.Context, id string) (string, error) {
	for {
		v, ok, err := h.take(id)
		if err != nil {
			return "", err
		}
		if ok {
			return v, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(h.poll):
		}
	}
}

// WaitInt waits like Wait and parses the payload as a single integer. A
// malformed payload must never deadlock the backend: on parse failure it
// logs the error and returns 1.
func (h *Holder) WaitInt(ctx context.Context, id string) (int, error) {
	msg, err := h.Wait(ctx, id)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(msg))
	if err != nil {
		logger.Error("Failed to parse message as int", "node_id", id, "message", msg)
		return 1, nil
	}
	return n, nil
}

// WaitIntList waits like Wait and parses the payload as a comma separated
// list of integers. On any malformed element it logs the error and returns
// [1].
func (h *Holder) WaitIntList(ctx context.Context, id string) ([]int, error) {
	msg, err := h.Wait(ctx, id)
	if err != nil {
		return nil, err
	}
	parts := strings.Split(msg, ",")
	values := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			logger.Error("Failed to parse message as comma separated list of ints",
				"node_id", id, "message", msg)
			return []int{1}, nil
		}
		values = append(values, n)
	}
	return values, nil
}

// Stash stores an auxiliary value for collaborators. The stash is untouched
// by normal message flow and cleared only by __start__.
func (h *Holder) Stash(key, value string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stash[key] = value
}

// Unstash retrieves a stashed value.
func (h *Holder) Unstash(key string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.stash[key]
	return v, ok
}

// Pending reports how many undelivered messages are held.
func (h *Holder) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}
