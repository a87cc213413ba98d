package telemetry

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind names a live feed event. The names match the channels dashboards listen on.
type EventKind string

const (
	EventPhase  EventKind = "drone_state"
	EventSample EventKind = "drone_update"
)

// PhaseEvent announces a drone state change.
type PhaseEvent struct {
	State    DroneState `json:"state"`
	SiteID   int64      `json:"industry_id"`
	SiteName string     `json:"industry_name"`
}

// SampleEvent carries one persisted reading together with the limits it was judged against.
type SampleEvent struct {
	ReadingID    string       `json:"reading_id"`
	SiteID       int64        `json:"industry_id"`
	SiteName     string       `json:"industry_name"`
	SiteCategory string       `json:"industry_type"`
	State        DroneState   `json:"state"`
	Timestamp    time.Time    `json:"timestamp"`
	Violation    bool         `json:"is_violation"`
	Lat          float64      `json:"gps_lat"`
	Lng          float64      `json:"gps_lng"`
	Body                      // flattened pollutant, temperature and humidity fields
	Limits       ThresholdSet `json:"limits"`
}

// Event is the envelope published to live subscribers. Exactly one of Phase or
// Sample is set, matching Kind.
type Event struct {
	Kind   EventKind
	Phase  *PhaseEvent
	Sample *SampleEvent
}

// NewPhaseEvent builds a phase event for the given state and site.
func NewPhaseEvent(state DroneState, site Site) Event {
	return Event{Kind: EventPhase, Phase: &PhaseEvent{State: state, SiteID: site.ID, SiteName: site.Name}}
}

// NewSampleEvent builds a sample event for a persisted reading.
func NewSampleEvent(r Reading, site Site, limits ThresholdSet) Event {
	return Event{Kind: EventSample, Sample: &SampleEvent{
		ReadingID:    r.ID,
		SiteID:       site.ID,
		SiteName:     site.Name,
		SiteCategory: site.Category,
		State:        StateScanning,
		Timestamp:    r.Timestamp,
		Violation:    r.Violation,
		Lat:          r.Lat,
		Lng:          r.Lng,
		Body:         r.Body,
		Limits:       limits,
	}}
}

// SiteID returns the site the event refers to.
func (e Event) SiteID() int64 {
	switch {
	case e.Phase != nil:
		return e.Phase.SiteID
	case e.Sample != nil:
		return e.Sample.SiteID
	}
	return 0
}

type eventEnvelope struct {
	Event EventKind       `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// MarshalJSON encodes the event as {"event": kind, "data": payload}.
func (e Event) MarshalJSON() ([]byte, error) {
	var payload any
	switch e.Kind {
	case EventPhase:
		payload = e.Phase
	case EventSample:
		payload = e.Sample
	default:
		return nil, fmt.Errorf("unknown event kind %q", e.Kind)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(eventEnvelope{Event: e.Kind, Data: data})
}

// UnmarshalJSON decodes the envelope written by MarshalJSON.
func (e *Event) UnmarshalJSON(b []byte) error {
	var env eventEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	switch env.Event {
	case EventPhase:
		var p PhaseEvent
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return fmt.Errorf("decode phase event: %w", err)
		}
		*e = Event{Kind: EventPhase, Phase: &p}
	case EventSample:
		var s SampleEvent
		if err := json.Unmarshal(env.Data, &s); err != nil {
			return fmt.Errorf("decode sample event: %w", err)
		}
		*e = Event{Kind: EventSample, Sample: &s}
	default:
		return fmt.Errorf("unknown event kind %q", env.Event)
	}
	return nil
}
