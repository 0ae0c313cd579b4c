// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const MaxParticipantIDLen = 1024

var (
	ErrParticipantIDEmpty   = errors.New("participant id empty")
	ErrParticipantIDTooLong = errors.New("participant id too long")
	ErrParticipantIDSpace   = errors.New("participant id contains whitespace")
)

// ParticipantID is the opaque id the server assigns to a queued participant.
type ParticipantID string

func (id ParticipantID) Validate() error {
	if len(id) == 0 {
		return ErrParticipantIDEmpty
	}
	if len(id) > MaxParticipantIDLen {
		return ErrParticipantIDTooLong
	}
	if strings.ContainsAny(string(id), " \t\r\n") {
		return ErrParticipantIDSpace
	}
	return nil
}
