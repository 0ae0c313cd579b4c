package participant

import (
	"fmt"

	"github.com/dkeye/SpeakInTurn/internal/core"
	"github.com/dkeye/SpeakInTurn/internal/protocol"
)

var errClosedBeforeOpen = fmt.Errorf("%w: channel closed before open", core.ErrNegotiation)

type State int

const (
	StateIdle State = iota
	// StateConnecting is idle in queue terms: the primary session is being
	// negotiated and the channel is not open yet.
	StateConnecting
	StateQueued
	StateActive
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateQueued:
		return "queued"
	case StateActive:
		return "active"
	}
	return "unknown"
}

// Status texts shown on the display surface.
const (
	StatusIdle         = "Idle"
	StatusConnecting   = "Connecting"
	StatusQueued       = "Queued"
	StatusLive         = "Live"
	StatusLeft         = "Left"
	StatusBumped       = "Bumped"
	StatusDisconnected = "Disconnected"
)

type EventKind int

const (
	EventJoin EventKind = iota
	EventLeave
	EventStatusCheck
	EventChannelOpen
	EventChannelClosed
	EventInbound
	EventNegotiationFailed
	EventAudioFailed
)

type Event struct {
	Kind EventKind
	Msg  protocol.Message
	Err  error
}

type EffectKind int

const (
	EffectOpenSession EffectKind = iota
	EffectSend
	EffectStartAudio
	EffectStopAudio
	EffectCloseChannel
	EffectScheduleSessionClose
	EffectCloseSessionNow
	EffectStatus
	EffectPosition
	EffectAlert
)

type Effect struct {
	Kind     EffectKind
	Text     string
	Position int
	Err      error
}

func send(text string) Effect       { return Effect{Kind: EffectSend, Text: text} }
func showStatus(text string) Effect { return Effect{Kind: EffectStatus, Text: text} }

// Machine is the participant's queue state. Handle is pure: it returns the
// next state and the side effects the caller must run, in order.
type Machine struct {
	State    State
	Position int
	Status   string
}

func NewMachine() Machine {
	return Machine{State: StateIdle, Status: StatusIdle}
}

func (m Machine) inQueue() bool {
	return m.State == StateQueued || m.State == StateActive
}

func (m Machine) Handle(ev Event) (Machine, []Effect) {
	switch ev.Kind {
	case EventJoin:
		if m.State != StateIdle {
			return m, nil
		}
		m.State = StateConnecting
		m.Position = 0
		m.Status = StatusConnecting
		return m, []Effect{{Kind: EffectOpenSession}, showStatus(m.Status)}

	case EventChannelOpen:
		if m.State != StateConnecting {
			return m, nil
		}
		m.State = StateQueued
		m.Status = StatusQueued
		return m, []Effect{send(protocol.EnterQueue), showStatus(m.Status)}

	case EventNegotiationFailed:
		if m.State != StateConnecting {
			return m, nil
		}
		m.State = StateIdle
		m.Status = StatusIdle
		return m, []Effect{{Kind: EffectAlert, Err: ev.Err}, {Kind: EffectCloseSessionNow}, showStatus(m.Status)}

	case EventInbound:
		return m.inbound(ev.Msg)

	case EventLeave:
		if m.State == StateIdle {
			return m, nil
		}
		return m.leave(false, StatusLeft)

	case EventStatusCheck:
		if !m.inQueue() {
			return m, nil
		}
		return m, []Effect{send(protocol.StatusCheck)}

	case EventChannelClosed:
		if m.State == StateConnecting {
			return m.Handle(Event{Kind: EventNegotiationFailed, Err: errClosedBeforeOpen})
		}
		if !m.inQueue() {
			return m, nil
		}
		var effects []Effect
		if m.State == StateActive {
			effects = append(effects, Effect{Kind: EffectStopAudio})
		}
		m.State = StateIdle
		m.Position = 0
		m.Status = StatusDisconnected
		return m, append(effects, Effect{Kind: EffectScheduleSessionClose}, showStatus(m.Status))

	case EventAudioFailed:
		if m.State != StateActive {
			return m, nil
		}
		return m, []Effect{{Kind: EffectAlert, Err: ev.Err}}
	}
	return m, nil
}

func (m Machine) inbound(msg protocol.Message) (Machine, []Effect) {
	switch msg.Kind {
	case protocol.KindReady:
		if m.State != StateQueued {
			return m, nil
		}
		m.State = StateActive
		m.Position = 0
		m.Status = StatusLive
		return m, []Effect{{Kind: EffectStartAudio}, showStatus(m.Status)}

	case protocol.KindPosition:
		if m.State != StateQueued {
			return m, nil
		}
		m.Position = msg.Position
		return m, []Effect{{Kind: EffectPosition, Position: msg.Position}}

	case protocol.KindBumped:
		if !m.inQueue() {
			return m, nil
		}
		return m.leave(true, StatusBumped)
	}
	return m, nil
}

// leave tears the queue membership down. A remote-initiated leave sends
// nothing back.
func (m Machine) leave(byRemote bool, statusText string) (Machine, []Effect) {
	var effects []Effect
	if m.State == StateActive {
		effects = append(effects, Effect{Kind: EffectStopAudio})
	}
	if !byRemote {
		effects = append(effects, send(protocol.Leaving))
	}
	effects = append(effects,
		Effect{Kind: EffectCloseChannel},
		Effect{Kind: EffectScheduleSessionClose},
		showStatus(statusText),
	)
	m.State = StateIdle
	m.Position = 0
	m.Status = statusText
	return m, effects
}
