package protocol

import (
	"strconv"
	"strings"

	"github.com/dkeye/SpeakInTurn/internal/domain"
)

// ParseParticipant decodes a message received on the participant channel.
// Unrecognized input yields KindUnknown.
func ParseParticipant(raw string) Message {
	msg := Message{Raw: raw}
	switch {
	case raw == "ready":
		msg.Kind = KindReady
	case raw == "bumped":
		msg.Kind = KindBumped
	default:
		v, ok := argument(raw, "position")
		if !ok {
			return msg
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return msg
		}
		msg.Kind = KindPosition
		msg.Position = n
	}
	return msg
}

var moderatorKinds = []struct {
	prefix string
	kind   Kind
}{
	{"add", KindAdd},
	{"rem", KindRem},
	{"done", KindDone},
	{"active", KindActive},
}

// ParseModerator decodes a message received on the moderator channel.
func ParseModerator(raw string) Message {
	msg := Message{Raw: raw}
	for _, mk := range moderatorKinds {
		v, ok := argument(raw, mk.prefix)
		if !ok {
			continue
		}
		id := domain.ParticipantID(v)
		if id.Validate() != nil {
			return msg
		}
		msg.Kind = mk.kind
		msg.ID = id
		return msg
	}
	return msg
}

// argument returns what follows "<keyword><delim>" where delim is a single
// space or colon.
func argument(raw, keyword string) (string, bool) {
	if len(raw) <= len(keyword)+1 || !strings.HasPrefix(raw, keyword) {
		return "", false
	}
	switch raw[len(keyword)] {
	case ' ', ':':
		return raw[len(keyword)+1:], true
	}
	return "", false
}
