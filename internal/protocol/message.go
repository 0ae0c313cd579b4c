// Package protocol maps data-channel wire strings to typed messages and back.
// Nothing outside this package looks at raw message text.
package protocol

import (
	"strconv"

	"github.com/dkeye/SpeakInTurn/internal/domain"
)

type Kind int

const (
	KindUnknown Kind = iota
	// server -> participant
	KindReady
	KindPosition
	KindBumped
	// server -> moderator
	KindAdd
	KindRem
	KindDone
	KindActive
)

func (k Kind) String() string {
	switch k {
	case KindReady:
		return "ready"
	case KindPosition:
		return "position"
	case KindBumped:
		return "bumped"
	case KindAdd:
		return "add"
	case KindRem:
		return "rem"
	case KindDone:
		return "done"
	case KindActive:
		return "active"
	}
	return "unknown"
}

// Message is one inbound data-channel message.
type Message struct {
	Kind     Kind
	Position int
	ID       domain.ParticipantID
	Raw      string
}

// Outbound participant intents.
const (
	EnterQueue  = "enterqueue"
	Leaving     = "leaving"
	StatusCheck = "status-check"
)

// Outbound moderator lifecycle signals.
const (
	Live = "live"
	Halt = "halt"
)

func Activate(id domain.ParticipantID) string {
	return "activate " + string(id)
}

func Deactivate(id domain.ParticipantID) string {
	return "deactivate " + string(id)
}

// Position formats the server side position notice; used by tests and tools.
func Position(n int) string {
	return "position " + strconv.Itoa(n)
}
