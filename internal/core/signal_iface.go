package core

import "context"

// Exchanger performs the single offer/answer request of a negotiation.
// Body and response are the JSON encoded {sdp, type} descriptions.
type Exchanger interface {
	Exchange(ctx context.Context, path string, offer []byte) ([]byte, error)
}

// DataChannel is a message-atomic text channel as delivered by the transport.
type DataChannel interface {
	Label() string
	SendText(text string) error
	OnOpen(func())
	OnClose(func())
	OnMessage(func(text string))
	Close() error
}
