package moderator

import (
	"fmt"
	"slices"

	"github.com/dkeye/SpeakInTurn/internal/core"
	"github.com/dkeye/SpeakInTurn/internal/domain"
	"github.com/dkeye/SpeakInTurn/internal/protocol"
)

var errClosedBeforeOpen = fmt.Errorf("%w: channel closed before open", core.ErrNegotiation)

type State int

const (
	StateOffAir State = iota
	StateConnecting
	StateLive
)

func (s State) String() string {
	switch s {
	case StateOffAir:
		return "off-air"
	case StateConnecting:
		return "connecting"
	case StateLive:
		return "live"
	}
	return "unknown"
}

const (
	StatusOffAir       = "off-air"
	StatusConnecting   = "connecting"
	StatusLive         = "live"
	StatusDown         = "down"
	StatusDisconnected = "disconnected"
)

type EventKind int

const (
	EventGoLive EventKind = iota
	EventChannelOpen
	EventChannelClosed
	EventNegotiationFailed
	EventInbound
	EventActivate
	EventStopActive
	EventShutdown
)

type Event struct {
	Kind EventKind
	Msg  protocol.Message
	ID   domain.ParticipantID
	Err  error
}

type EffectKind int

const (
	EffectOpenSession EffectKind = iota
	EffectSend
	EffectCloseChannel
	EffectStopTransceivers
	EffectScheduleSessionClose
	EffectCloseSessionNow
	EffectStatus
	EffectRoster
	EffectActive
	EffectAlert
)

type Effect struct {
	Kind        EffectKind
	Text        string
	Roster      []domain.ParticipantID
	Active      domain.ParticipantID
	StopVisible bool
	Err         error
}

func send(text string) Effect { return Effect{Kind: EffectSend, Text: text} }

// Machine is the moderator's view of the queue. The active speaker is never
// part of Roster. Pending marks an activation sent by this moderator that the
// remote has not confirmed yet.
type Machine struct {
	State   State
	Status  string
	Roster  []domain.ParticipantID
	Active  domain.ParticipantID
	Pending bool
}

func NewMachine() Machine {
	return Machine{State: StateOffAir, Status: StatusOffAir}
}

// Handle never mutates the receiver's roster in place; the returned machine
// carries its own copy whenever the roster changes.
func (m Machine) Handle(ev Event) (Machine, []Effect) {
	switch ev.Kind {
	case EventGoLive:
		if m.State != StateOffAir {
			return m, nil
		}
		m.State = StateConnecting
		m.Status = StatusConnecting
		m.Roster = nil
		m.Active = ""
		m.Pending = false
		return m, []Effect{{Kind: EffectOpenSession}, m.status()}

	case EventChannelOpen:
		if m.State != StateConnecting {
			return m, nil
		}
		m.State = StateLive
		m.Status = StatusLive
		return m, []Effect{send(protocol.Live), m.status()}

	case EventNegotiationFailed:
		if m.State != StateConnecting {
			return m, nil
		}
		m.State = StateOffAir
		m.Status = StatusOffAir
		return m, []Effect{{Kind: EffectAlert, Err: ev.Err}, {Kind: EffectCloseSessionNow}, m.status()}

	case EventChannelClosed:
		if m.State == StateConnecting {
			return m.Handle(Event{Kind: EventNegotiationFailed, Err: errClosedBeforeOpen})
		}
		if m.State != StateLive {
			return m, nil
		}
		m.State = StateOffAir
		m.Status = StatusDisconnected
		return m, []Effect{m.status(), {Kind: EffectScheduleSessionClose}}

	case EventInbound:
		if m.State == StateOffAir {
			return m, nil
		}
		return m.inbound(ev.Msg)

	case EventActivate:
		if m.State != StateLive || ev.ID == "" || ev.ID == m.Active {
			return m, nil
		}
		var effects []Effect
		if m.Active != "" {
			effects = append(effects, send(protocol.Deactivate(m.Active)))
		}
		m.Active = ev.ID
		m.Roster = without(m.Roster, ev.ID)
		m.Pending = true
		return m, append(effects, m.roster(), m.active(), send(protocol.Activate(ev.ID)))

	case EventStopActive:
		if m.State != StateLive || m.Active == "" {
			return m, nil
		}
		id := m.Active
		next, effects := m.done(id)
		return next, append([]Effect{send(protocol.Deactivate(id))}, effects...)

	case EventShutdown:
		if m.State == StateOffAir {
			return m, nil
		}
		connecting := m.State == StateConnecting
		m.State = StateOffAir
		m.Status = StatusDown
		if connecting {
			// halt cannot go out on an unopened channel.
			return m, []Effect{m.status(), {Kind: EffectCloseChannel}, {Kind: EffectCloseSessionNow}}
		}
		return m, []Effect{
			send(protocol.Halt),
			m.status(),
			{Kind: EffectCloseChannel},
			{Kind: EffectStopTransceivers},
			{Kind: EffectScheduleSessionClose},
		}
	}
	return m, nil
}

func (m Machine) inbound(msg protocol.Message) (Machine, []Effect) {
	switch msg.Kind {
	case protocol.KindAdd:
		m.Roster = append(slices.Clone(m.Roster), msg.ID)
		return m, []Effect{m.roster()}

	case protocol.KindRem:
		if msg.ID == m.Active {
			return m.done(msg.ID)
		}
		i := slices.Index(m.Roster, msg.ID)
		if i < 0 {
			return m, nil
		}
		m.Roster = slices.Delete(slices.Clone(m.Roster), i, i+1)
		return m, []Effect{m.roster()}

	case protocol.KindDone:
		return m.done(msg.ID)

	case protocol.KindActive:
		m.Active = msg.ID
		m.Roster = without(m.Roster, msg.ID)
		m.Pending = false
		return m, []Effect{m.roster(), m.active()}
	}
	return m, nil
}

// done ends the current turn and drops id from the roster.
func (m Machine) done(id domain.ParticipantID) (Machine, []Effect) {
	m.Active = ""
	m.Pending = false
	m.Roster = without(m.Roster, id)
	return m, []Effect{m.roster(), m.active()}
}

func (m Machine) status() Effect {
	return Effect{Kind: EffectStatus, Text: m.Status}
}

func (m Machine) roster() Effect {
	return Effect{Kind: EffectRoster, Roster: slices.Clone(m.Roster)}
}

func (m Machine) active() Effect {
	return Effect{Kind: EffectActive, Active: m.Active, StopVisible: m.Active != ""}
}

// without returns a copy of ids with the first occurrence of id removed.
func without(ids []domain.ParticipantID, id domain.ParticipantID) []domain.ParticipantID {
	i := slices.Index(ids, id)
	if i < 0 {
		return ids
	}
	return slices.Delete(slices.Clone(ids), i, i+1)
}
