package core

import (
	"github.com/pion/webrtc/v4"
)

// Peer is the part of a real-time peer connection the negotiator drives.
type Peer interface {
	CreateOffer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	SetRemoteDescription(webrtc.SessionDescription) error
	GatheringState() webrtc.ICEGatheringState
	// SubscribeGathering registers fn for gathering state changes.
	// The returned func unsubscribes and is safe to call more than once.
	SubscribeGathering(fn func(webrtc.ICEGatheringState)) (unsubscribe func())
	// StopTransceivers stops every RTP transceiver of the connection.
	StopTransceivers()
	Close() error
}

// MediaPeer is a Peer that carries outbound media.
type MediaPeer interface {
	Peer
	AddTrack(webrtc.TrackLocal) error
}

// DataPeer is a Peer that carries the ordered control channel.
type DataPeer interface {
	Peer
	CreateDataChannel(label string) (DataChannel, error)
}

// OutboundTrack is a local capture track attached to a session.
type OutboundTrack interface {
	Local() webrtc.TrackLocal
	// Stop releases the capture source. Must be idempotent.
	Stop()
}
