package session

import (
	"sync"

	"github.com/dkeye/SpeakInTurn/internal/core"
	"github.com/pion/webrtc/v4"
)

// gatherWait resolves once when ICE gathering reaches complete and drops its
// subscription at that moment. Later notifications are ignored.
type gatherWait struct {
	mu       sync.Mutex
	resolved bool
	unsub    func()
	done     chan struct{}
}

func awaitGathering(p core.Peer) *gatherWait {
	w := &gatherWait{done: make(chan struct{})}
	unsub := p.SubscribeGathering(func(s webrtc.ICEGatheringState) {
		if s == webrtc.ICEGatheringStateComplete {
			w.resolve()
		}
	})

	w.mu.Lock()
	w.unsub = unsub
	already := w.resolved
	w.mu.Unlock()
	if already {
		unsub()
		return w
	}

	// Gathering may have finished before we subscribed.
	if p.GatheringState() == webrtc.ICEGatheringStateComplete {
		w.resolve()
	}
	return w
}

func (w *gatherWait) resolve() {
	w.mu.Lock()
	if w.resolved {
		w.mu.Unlock()
		return
	}
	w.resolved = true
	unsub := w.unsub
	w.mu.Unlock()

	close(w.done)
	if unsub != nil {
		unsub()
	}
}

func (w *gatherWait) Done() <-chan struct{} { return w.done }

// cancel drops the subscription without resolving.
func (w *gatherWait) cancel() {
	w.mu.Lock()
	unsub := w.unsub
	w.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}
