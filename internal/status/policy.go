package status

import "github.com/dkeye/SpeakInTurn/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropEvent
	KickSubscriber
)

type Policy interface {
	OnBackPressure(sid core.SessionID, pending int) BackpressureAction
}

// SimplePolicy disconnects any subscriber whose buffer is full; the UI
// reconnects and gets the replayed snapshot.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.SessionID, int) BackpressureAction {
	return KickSubscriber
}
