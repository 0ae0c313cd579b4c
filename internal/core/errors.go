package core

import "errors"

// Terminal errors of a session setup. None of them are retried.
var (
	ErrNegotiation       = errors.New("negotiation failed")
	ErrExchange          = errors.New("signaling exchange failed")
	ErrRemoteDescription = errors.New("remote description rejected")
	ErrMediaAcquisition  = errors.New("media acquisition failed")
	ErrSessionClosed     = errors.New("session closed")
)
