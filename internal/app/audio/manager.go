// Package audio manages the secondary session that carries the active
// speaker's outbound audio.
package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/SpeakInTurn/internal/app/session"
	"github.com/dkeye/SpeakInTurn/internal/core"
	"github.com/dkeye/SpeakInTurn/internal/domain"
	"github.com/dkeye/SpeakInTurn/internal/media"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

// Manager keeps at most one audio session alive.
type Manager struct {
	peers     core.PeerFactory
	exchanger core.Exchanger
	capturer  media.Capturer
	grace     time.Duration
	logger    zerolog.Logger

	mu   sync.Mutex
	sess *session.Session

	wg conc.WaitGroup
}

func NewManager(peers core.PeerFactory, exchanger core.Exchanger, capturer media.Capturer, grace time.Duration) *Manager {
	return &Manager{
		peers:     peers,
		exchanger: exchanger,
		capturer:  capturer,
		grace:     grace,
		logger:    log.With().Str("module", "app.audio").Logger(),
	}
}

func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess != nil
}

// Start opens the audio session, attaches the captured tracks and negotiates
// it. A Stop that lands while Start is in flight wins: Start then releases
// whatever it captured and returns nil.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.sess != nil {
		m.mu.Unlock()
		return nil
	}
	sid := session.NewID()
	peer, err := m.peers.NewMediaPeer(domain.PurposeAudio, sid)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: new peer: %w", core.ErrNegotiation, err)
	}
	sess := session.New(sid, domain.PurposeAudio, peer, m.exchanger)
	m.sess = sess
	m.mu.Unlock()

	logger := m.logger.With().Str("sid", string(sid)).Logger()

	tracks, err := m.capturer.Capture(ctx)
	if err != nil {
		m.discard(sess)
		if !errors.Is(err, core.ErrMediaAcquisition) {
			err = fmt.Errorf("%w: %w", core.ErrMediaAcquisition, err)
		}
		logger.Error().Err(err).Msg("capture failed")
		return err
	}
	for i, t := range tracks {
		if err := sess.AttachTrack(t); err != nil {
			for _, rest := range tracks[i:] {
				rest.Stop()
			}
			if errors.Is(err, core.ErrSessionClosed) {
				logger.Info().Msg("stopped while capturing")
				return nil
			}
			m.discard(sess)
			return err
		}
	}

	if err := sess.Negotiate(ctx); err != nil {
		if errors.Is(err, core.ErrSessionClosed) {
			logger.Info().Msg("stopped while negotiating")
			return nil
		}
		m.discard(sess)
		logger.Error().Err(err).Msg("negotiation failed")
		return err
	}
	logger.Info().Int("tracks", len(tracks)).Msg("audio live")
	return nil
}

// Stop silences the outbound tracks now and closes the session after the
// grace delay. Stopping an idle manager is a no-op.
func (m *Manager) Stop() {
	m.mu.Lock()
	sess := m.sess
	m.sess = nil
	m.mu.Unlock()
	if sess == nil {
		return
	}
	sess.StopTracks()
	m.wg.Go(func() { sess.CloseAfter(m.grace) })
	m.logger.Info().Str("sid", string(sess.ID())).Msg("audio stopping")
}

// Close stops any live session and waits until every pending close has
// served its grace.
func (m *Manager) Close() {
	m.Stop()
	m.wg.Wait()
}

// discard drops sess immediately unless a Stop already took it over.
func (m *Manager) discard(sess *session.Session) {
	m.mu.Lock()
	if m.sess == sess {
		m.sess = nil
	}
	m.mu.Unlock()
	_ = sess.Close()
}
