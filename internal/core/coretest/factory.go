package coretest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/dkeye/SpeakInTurn/internal/core"
	"github.com/dkeye/SpeakInTurn/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Factory hands out fresh Peers and remembers them in creation order.
type Factory struct {
	// Prepare, when set, tweaks every peer before it is returned.
	Prepare func(*Peer)

	mu    sync.Mutex
	peers []*Peer
}

func (f *Factory) newPeer(purpose domain.Purpose, sid core.SessionID) *Peer {
	p := NewPeer(purpose, sid)
	if f.Prepare != nil {
		f.Prepare(p)
	}
	f.mu.Lock()
	f.peers = append(f.peers, p)
	f.mu.Unlock()
	return p
}

func (f *Factory) NewDataPeer(purpose domain.Purpose, sid core.SessionID) (core.DataPeer, error) {
	return f.newPeer(purpose, sid), nil
}

func (f *Factory) NewMediaPeer(purpose domain.Purpose, sid core.SessionID) (core.MediaPeer, error) {
	return f.newPeer(purpose, sid), nil
}

func (f *Factory) Peers(purpose domain.Purpose) []*Peer {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Peer
	for _, p := range f.peers {
		if p.Purpose == purpose {
			out = append(out, p)
		}
	}
	return out
}

// Last returns the most recent peer of the given purpose, or nil.
func (f *Factory) Last(purpose domain.Purpose) *Peer {
	ps := f.Peers(purpose)
	if len(ps) == 0 {
		return nil
	}
	return ps[len(ps)-1]
}

// Exchanger answers every offer with a minimal valid answer unless Handler
// is set. Every request path is recorded.
type Exchanger struct {
	Handler func(path string, body []byte) ([]byte, error)

	mu    sync.Mutex
	paths []string
}

func (e *Exchanger) Exchange(_ context.Context, path string, offer []byte) ([]byte, error) {
	e.mu.Lock()
	e.paths = append(e.paths, path)
	h := e.Handler
	e.mu.Unlock()
	if h != nil {
		return h(path, offer)
	}
	var in struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(offer, &in); err != nil || in.Type != webrtc.SDPTypeOffer.String() {
		return nil, errors.New("not an offer")
	}
	return json.Marshal(map[string]string{"type": "answer", "sdp": MinimalSDP})
}

func (e *Exchanger) Paths() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.paths))
	copy(out, e.paths)
	return out
}

// Track is an OutboundTrack that counts Stop calls.
type Track struct {
	mu    sync.Mutex
	stops int
}

func (t *Track) Local() webrtc.TrackLocal { return nil }

func (t *Track) Stop() {
	t.mu.Lock()
	t.stops++
	t.mu.Unlock()
}

func (t *Track) Stops() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

// Capturer returns the configured tracks or error.
type Capturer struct {
	Err error

	mu       sync.Mutex
	captures int
	tracks   []*Track
}

func (c *Capturer) Capture(context.Context) ([]core.OutboundTrack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.captures++
	if c.Err != nil {
		return nil, c.Err
	}
	t := &Track{}
	c.tracks = append(c.tracks, t)
	return []core.OutboundTrack{t}, nil
}

func (c *Capturer) Captures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.captures
}

func (c *Capturer) Tracks() []*Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Track, len(c.tracks))
	copy(out, c.tracks)
	return out
}
