package broadcast

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrHubClosed          = errors.New("broadcast: hub is closed")
	ErrSubscriberExists   = errors.New("broadcast: subscriber already exists")
	ErrSubscriberNotFound = errors.New("broadcast: subscriber not found")
)

// Policy decides what happens when a subscriber's queue is full.
type Policy int

const (
	// DropNewest discards the incoming event and keeps what is queued.
	DropNewest Policy = iota
	// DropOldest evicts the oldest queued event to make room for the new one.
	DropOldest
)

func (p Policy) String() string {
	switch p {
	case DropNewest:
		return "drop_newest"
	case DropOldest:
		return "drop_oldest"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy maps a config value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop_newest", "drop_new":
		return DropNewest, nil
	case "drop_oldest", "drop_old":
		return DropOldest, nil
	}
	return DropNewest, fmt.Errorf("unknown overflow policy %q", s)
}

// DefaultQueueSize is used when Options.QueueSize is not positive.
const DefaultQueueSize = 64

// Options configure one subscription.
type Options struct {
	QueueSize int
	Policy    Policy
}

// Stats are per-subscriber delivery counters.
type Stats struct {
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
	Queued  int    `json:"queued"`
}
