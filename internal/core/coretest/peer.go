// Package coretest provides in-memory fakes of the core interfaces for tests.
package coretest

import (
	"errors"
	"sync"

	"github.com/dkeye/SpeakInTurn/internal/core"
	"github.com/dkeye/SpeakInTurn/internal/domain"
	"github.com/pion/webrtc/v4"
)

const MinimalSDP = "v=0\r\no=- 4611731400430051336 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

// Peer is a scriptable core.Peer. With AutoGather set, SetLocalDescription
// walks the gathering state to complete and notifies subscribers.
type Peer struct {
	Purpose domain.Purpose
	SID     core.SessionID

	OfferErr     error
	SetLocalErr  error
	SetRemoteErr error
	AutoGather   bool

	mu           sync.Mutex
	gathering    webrtc.ICEGatheringState
	local        *webrtc.SessionDescription
	remote       *webrtc.SessionDescription
	subs         map[int]func(webrtc.ICEGatheringState)
	nextSub      int
	subscribes   int
	unsubscribes int
	closes       int
	stops        int
	tracks       []webrtc.TrackLocal
	channels     []*DataChannel
	addTrackErr  error
}

func NewPeer(purpose domain.Purpose, sid core.SessionID) *Peer {
	return &Peer{
		Purpose:    purpose,
		SID:        sid,
		AutoGather: true,
		gathering:  webrtc.ICEGatheringStateNew,
		subs:       make(map[int]func(webrtc.ICEGatheringState)),
	}
}

func (p *Peer) CreateOffer() (webrtc.SessionDescription, error) {
	if p.OfferErr != nil {
		return webrtc.SessionDescription{}, p.OfferErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: MinimalSDP}, nil
}

func (p *Peer) SetLocalDescription(d webrtc.SessionDescription) error {
	if p.SetLocalErr != nil {
		return p.SetLocalErr
	}
	p.mu.Lock()
	p.local = &d
	auto := p.AutoGather
	p.mu.Unlock()
	if auto {
		p.SetGathering(webrtc.ICEGatheringStateGathering)
		p.SetGathering(webrtc.ICEGatheringStateComplete)
	}
	return nil
}

func (p *Peer) LocalDescription() *webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.local
}

func (p *Peer) SetRemoteDescription(d webrtc.SessionDescription) error {
	if p.SetRemoteErr != nil {
		return p.SetRemoteErr
	}
	p.mu.Lock()
	p.remote = &d
	p.mu.Unlock()
	return nil
}

func (p *Peer) RemoteDescription() *webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote
}

func (p *Peer) GatheringState() webrtc.ICEGatheringState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gathering
}

// SetGathering changes the gathering state and notifies every subscriber,
// even when the state does not change.
func (p *Peer) SetGathering(s webrtc.ICEGatheringState) {
	p.mu.Lock()
	p.gathering = s
	fns := make([]func(webrtc.ICEGatheringState), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (p *Peer) SubscribeGathering(fn func(webrtc.ICEGatheringState)) func() {
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	p.subscribes++
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.unsubscribes++
			p.mu.Unlock()
		})
	}
}

func (p *Peer) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

func (p *Peer) Unsubscribes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unsubscribes
}

func (p *Peer) StopTransceivers() {
	p.mu.Lock()
	p.stops++
	p.mu.Unlock()
}

func (p *Peer) TransceiverStops() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops
}

func (p *Peer) Close() error {
	p.mu.Lock()
	p.closes++
	p.mu.Unlock()
	return nil
}

func (p *Peer) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

func (p *Peer) AddTrack(t webrtc.TrackLocal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.addTrackErr != nil {
		return p.addTrackErr
	}
	p.tracks = append(p.tracks, t)
	return nil
}

func (p *Peer) FailAddTrack() {
	p.mu.Lock()
	p.addTrackErr = errors.New("add track refused")
	p.mu.Unlock()
}

func (p *Peer) Tracks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tracks)
}

func (p *Peer) CreateDataChannel(label string) (core.DataChannel, error) {
	dc := NewDataChannel(label)
	p.mu.Lock()
	p.channels = append(p.channels, dc)
	p.mu.Unlock()
	return dc, nil
}

// Channel returns the first data channel created on the peer.
func (p *Peer) Channel() *DataChannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.channels) == 0 {
		return nil
	}
	return p.channels[0]
}
