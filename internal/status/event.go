// Package status is the display surface: role state changes are published
// as JSON events to every connected UI subscriber.
package status

import (
	"encoding/json"
	"sync"

	"github.com/dkeye/SpeakInTurn/internal/domain"
)

type EventType string

const (
	EventStatus   EventType = "status"
	EventPosition EventType = "position"
	EventRoster   EventType = "roster"
	EventActive   EventType = "active"
	EventAlert    EventType = "alert"
	EventLog      EventType = "log"
)

type Event struct {
	Role        domain.Role            `json:"role"`
	Type        EventType              `json:"type"`
	Status      string                 `json:"status,omitempty"`
	Position    int                    `json:"position,omitempty"`
	Roster      []domain.ParticipantID `json:"roster,omitempty"`
	Active      domain.ParticipantID   `json:"active,omitempty"`
	StopVisible bool                   `json:"stop_visible,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Line        string                 `json:"line,omitempty"`
}

// MarshalJSON always writes the state carried by roster and active events,
// so an emptied roster arrives as [] and a cleared speaker as "".
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	switch e.Type {
	case EventRoster:
		roster := e.Roster
		if roster == nil {
			roster = []domain.ParticipantID{}
		}
		return json.Marshal(struct {
			plain
			Roster []domain.ParticipantID `json:"roster"`
		}{plain(e), roster})
	case EventActive:
		return json.Marshal(struct {
			plain
			Active      domain.ParticipantID `json:"active"`
			StopVisible bool                 `json:"stop_visible"`
		}{plain(e), e.Active, e.StopVisible})
	}
	return json.Marshal(plain(e))
}

type Publisher interface {
	Publish(Event)
}

// Recorder is a Publisher that keeps every event; safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *Recorder) Events(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// Last returns the latest event of type t.
func (r *Recorder) Last(t EventType) (Event, bool) {
	evs := r.Events(t)
	if len(evs) == 0 {
		return Event{}, false
	}
	return evs[len(evs)-1], true
}
