package core

import "github.com/dkeye/SpeakInTurn/internal/domain"

type SessionID string

// PeerFactory builds fresh peers; a peer is never reused across sessions.
type PeerFactory interface {
	NewDataPeer(purpose domain.Purpose, sid SessionID) (DataPeer, error)
	NewMediaPeer(purpose domain.Purpose, sid SessionID) (MediaPeer, error)
}
