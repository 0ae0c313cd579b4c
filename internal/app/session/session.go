// Package session drives one peer connection through the offer/answer
// handshake and owns it until it is closed.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/SpeakInTurn/internal/core"
	"github.com/dkeye/SpeakInTurn/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type description struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

type Session struct {
	id        core.SessionID
	purpose   domain.Purpose
	peer      core.Peer
	exchanger core.Exchanger
	logger    zerolog.Logger

	mu            sync.Mutex
	state         State
	tracks        []core.OutboundTrack
	tracksStopped bool
	closed        chan struct{}
}

// NewID returns a fresh session id for a peer about to be created.
func NewID() core.SessionID {
	return core.SessionID(uuid.NewString())
}

func New(id core.SessionID, purpose domain.Purpose, peer core.Peer, exchanger core.Exchanger) *Session {
	return &Session{
		id:        id,
		purpose:   purpose,
		peer:      peer,
		exchanger: exchanger,
		logger: log.With().
			Str("module", "app.session").
			Str("sid", string(id)).
			Str("purpose", string(purpose)).
			Logger(),
		state:  StateNew,
		closed: make(chan struct{}),
	}
}

func (s *Session) ID() core.SessionID      { return s.id }
func (s *Session) Purpose() domain.Purpose { return s.purpose }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// advance moves to next unless the session was closed meanwhile.
func (s *Session) advance(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return core.ErrSessionClosed
	}
	s.state = next
	s.logger.Debug().Str("state", next.String()).Msg("session state")
	return nil
}

// Negotiate runs offer, ICE gathering, the signaling exchange and the remote
// description in order. It returns ErrSessionClosed when the session was
// closed while the handshake was in flight.
func (s *Session) Negotiate(ctx context.Context) error {
	if err := s.advance(StateOffering); err != nil {
		return err
	}
	offer, err := s.peer.CreateOffer()
	if err != nil {
		return fmt.Errorf("%w: create offer: %w", core.ErrNegotiation, err)
	}
	if err := s.peer.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("%w: set local description: %w", core.ErrNegotiation, err)
	}

	if err := s.advance(StateGatheringICE); err != nil {
		return err
	}
	wait := awaitGathering(s.peer)
	select {
	case <-wait.Done():
	case <-s.closed:
		wait.cancel()
		return core.ErrSessionClosed
	case <-ctx.Done():
		wait.cancel()
		return ctx.Err()
	}

	if err := s.advance(StateAwaitingAnswer); err != nil {
		return err
	}
	local := s.peer.LocalDescription()
	if local == nil {
		return fmt.Errorf("%w: no local description after gathering", core.ErrNegotiation)
	}
	body, err := json.Marshal(description{SDP: local.SDP, Type: local.Type.String()})
	if err != nil {
		return fmt.Errorf("%w: encode offer: %w", core.ErrNegotiation, err)
	}
	resp, err := s.exchanger.Exchange(ctx, s.purpose.Path(), body)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrExchange, err)
	}

	answer, err := decodeAnswer(resp)
	if err != nil {
		return err
	}
	if s.State() == StateClosed {
		return core.ErrSessionClosed
	}
	if err := s.peer.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("%w: %w", core.ErrRemoteDescription, err)
	}
	if err := s.advance(StateConnected); err != nil {
		return err
	}
	s.logger.Info().Msg("session connected")
	return nil
}

func decodeAnswer(resp []byte) (webrtc.SessionDescription, error) {
	var d description
	if err := json.Unmarshal(resp, &d); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: decode answer: %w", core.ErrRemoteDescription, err)
	}
	if webrtc.NewSDPType(d.Type) != webrtc.SDPTypeAnswer {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: unexpected type %q", core.ErrRemoteDescription, d.Type)
	}
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(d.SDP)); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: parse sdp: %w", core.ErrRemoteDescription, err)
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: d.SDP}, nil
}

// AttachTrack adds an outbound track to the peer. The session owns the track
// from then on and stops it on StopTracks or Close. Once tracks were stopped
// no new track is accepted.
func (s *Session) AttachTrack(t core.OutboundTrack) error {
	mp, ok := s.peer.(core.MediaPeer)
	if !ok {
		return fmt.Errorf("%w: %s session carries no media", core.ErrNegotiation, s.purpose)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed || s.tracksStopped {
		return core.ErrSessionClosed
	}
	if err := mp.AddTrack(t.Local()); err != nil {
		return fmt.Errorf("%w: add track: %w", core.ErrNegotiation, err)
	}
	s.tracks = append(s.tracks, t)
	return nil
}

// StopTracks stops every owned outbound track once.
func (s *Session) StopTracks() {
	s.mu.Lock()
	if s.tracksStopped {
		s.mu.Unlock()
		return
	}
	s.tracksStopped = true
	tracks := s.tracks
	s.mu.Unlock()

	for _, t := range tracks {
		t.Stop()
	}
	if len(tracks) > 0 {
		s.logger.Info().Int("tracks", len(tracks)).Msg("outbound tracks stopped")
	}
}

func (s *Session) StopTransceivers() {
	if s.State() == StateClosed {
		return
	}
	s.peer.StopTransceivers()
}

// CloseAfter closes the session once d has elapsed. The delay always runs
// in full so the last message on the channel gets flushed. It blocks; run it
// on its own goroutine.
func (s *Session) CloseAfter(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	<-t.C
	_ = s.Close()
}

// Close stops owned tracks and releases the peer. Only the first call has
// any effect.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	close(s.closed)
	s.mu.Unlock()

	s.StopTracks()
	if err := s.peer.Close(); err != nil {
		s.logger.Error().Err(err).Msg("close error")
		return err
	}
	s.logger.Info().Msg("closed")
	return nil
}
