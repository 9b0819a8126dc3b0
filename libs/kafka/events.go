package kafka

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// eventSource tags every envelope this service emits.
const eventSource = "keymarket"

// eventNamespace scopes deterministic event IDs so replayed trade IDs
// from other producers cannot collide with ours.
var eventNamespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("events.keymarket"))

// Envelope is the common header on every event published to Kafka.
// Consumers validate it before touching the payload.
type Envelope struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	EventVersion  int       `json:"event_version"`
	Source        string    `json:"source,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// NewEnvelope assigns a random event ID. Trade events use
// NewEnvelopeWithID with a deterministic ID so replays deduplicate.
func NewEnvelope(eventType string, version int, correlationID string) (Envelope, error) {
	return NewEnvelopeWithID(uuid.NewString(), eventType, version, correlationID)
}

func NewEnvelopeWithID(eventID, eventType string, version int, correlationID string) (Envelope, error) {
	switch {
	case eventID == "":
		return Envelope{}, fmt.Errorf("event_id is required")
	case eventType == "":
		return Envelope{}, fmt.Errorf("event_type is required")
	case version <= 0:
		return Envelope{}, fmt.Errorf("event_version must be positive")
	}

	return Envelope{
		EventID:       eventID,
		EventType:     eventType,
		EventVersion:  version,
		Source:        eventSource,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
	}, nil
}

// DeterministicEventID derives a stable UUID from the given parts, so
// publishing the same trade twice yields the same event ID.
func DeterministicEventID(parts ...string) string {
	if len(parts) == 0 {
		return uuid.Nil.String()
	}
	return uuid.NewSHA1(eventNamespace, []byte(strings.Join(parts, "\x1f"))).String()
}

func (e Envelope) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if e.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if e.EventVersion <= 0 {
		return fmt.Errorf("event_version must be positive")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}
