// Package moderator runs the moderator side of the speaking queue: it
// mirrors the remote roster and promotes or demotes speakers over the
// control session.
package moderator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/SpeakInTurn/internal/app/channel"
	"github.com/dkeye/SpeakInTurn/internal/app/mailbox"
	"github.com/dkeye/SpeakInTurn/internal/app/session"
	"github.com/dkeye/SpeakInTurn/internal/core"
	"github.com/dkeye/SpeakInTurn/internal/domain"
	"github.com/dkeye/SpeakInTurn/internal/protocol"
	"github.com/dkeye/SpeakInTurn/internal/status"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

type Options struct {
	ControlGrace time.Duration
}

func DefaultOptions() Options {
	return Options{ControlGrace: 500 * time.Millisecond}
}

type loopEvent struct {
	gen uint64
	ev  Event
}

type Snapshot struct {
	State   string                 `json:"state"`
	Status  string                 `json:"status"`
	Roster  []domain.ParticipantID `json:"roster"`
	Active  domain.ParticipantID   `json:"active"`
	Pending bool                   `json:"pending"`
}

type Controller struct {
	peers     core.PeerFactory
	exchanger core.Exchanger
	pub       status.Publisher
	opts      Options
	logger    zerolog.Logger

	box *mailbox.Mailbox[loopEvent]
	wg  conc.WaitGroup

	m    Machine
	gen  uint64
	sess *session.Session
	ch   *channel.Ordered

	mu   sync.Mutex
	snap Machine
}

func NewController(peers core.PeerFactory, exchanger core.Exchanger, pub status.Publisher, opts Options) *Controller {
	return &Controller{
		peers:     peers,
		exchanger: exchanger,
		pub:       pub,
		opts:      opts,
		logger:    log.With().Str("module", "app.moderator").Logger(),
		box:       mailbox.New[loopEvent](),
		m:         NewMachine(),
		snap:      NewMachine(),
	}
}

func (c *Controller) GoLive()     { c.local(Event{Kind: EventGoLive}) }
func (c *Controller) StopActive() { c.local(Event{Kind: EventStopActive}) }
func (c *Controller) Shutdown()   { c.local(Event{Kind: EventShutdown}) }

func (c *Controller) Activate(id domain.ParticipantID) {
	c.local(Event{Kind: EventActivate, ID: id})
}

func (c *Controller) local(ev Event) { c.box.Put(loopEvent{ev: ev}) }

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:   c.snap.State.String(),
		Status:  c.snap.Status,
		Roster:  slices.Clone(c.snap.Roster),
		Active:  c.snap.Active,
		Pending: c.snap.Pending,
	}
}

// Run processes events until ctx is done, then shuts the control session
// down and waits for helper goroutines, so halt gets its full grace.
func (c *Controller) Run(ctx context.Context) {
	c.logger.Info().Msg("moderator loop started")
	for {
		select {
		case <-ctx.Done():
			c.handle(ctx, loopEvent{ev: Event{Kind: EventShutdown}})
			c.box.Close()
			c.wg.Wait()
			c.logger.Info().Msg("moderator loop stopped")
			return
		case <-c.box.Ready():
			for _, le := range c.box.Drain() {
				c.handle(ctx, le)
			}
		}
	}
}

func (c *Controller) handle(ctx context.Context, le loopEvent) {
	if le.gen != 0 && le.gen != c.gen {
		c.logger.Debug().Uint64("gen", le.gen).Uint64("current", c.gen).Msg("stale event dropped")
		return
	}
	prev := c.m.State
	next, effects := c.m.Handle(le.ev)
	c.m = next
	if prev != next.State {
		c.logger.Info().Str("from", prev.String()).Str("to", next.State.String()).Msg("state change")
	}
	for _, eff := range effects {
		c.apply(ctx, eff)
	}
	c.mu.Lock()
	c.snap = next
	c.mu.Unlock()
}

func (c *Controller) post(gen uint64, ev Event) {
	c.box.Put(loopEvent{gen: gen, ev: ev})
}

func (c *Controller) apply(ctx context.Context, eff Effect) {
	switch eff.Kind {
	case EffectOpenSession:
		c.openSession(ctx)
	case EffectSend:
		if c.ch != nil {
			c.ch.Send(eff.Text)
		}
	case EffectCloseChannel:
		if c.ch != nil {
			c.ch.Close()
			c.ch = nil
		}
	case EffectStopTransceivers:
		if c.sess != nil {
			c.sess.StopTransceivers()
		}
	case EffectScheduleSessionClose:
		c.ch = nil
		if sess := c.sess; sess != nil {
			c.sess = nil
			c.wg.Go(func() { sess.CloseAfter(c.opts.ControlGrace) })
		}
	case EffectCloseSessionNow:
		if c.ch != nil {
			c.ch.Close()
			c.ch = nil
		}
		if c.sess != nil {
			_ = c.sess.Close()
			c.sess = nil
		}
	case EffectStatus:
		c.pub.Publish(status.Event{Role: domain.RoleModerator, Type: status.EventStatus, Status: eff.Text})
	case EffectRoster:
		c.pub.Publish(status.Event{Role: domain.RoleModerator, Type: status.EventRoster, Roster: eff.Roster})
	case EffectActive:
		c.pub.Publish(status.Event{
			Role:        domain.RoleModerator,
			Type:        status.EventActive,
			Active:      eff.Active,
			StopVisible: eff.StopVisible,
		})
	case EffectAlert:
		c.logger.Error().Err(eff.Err).Msg("moderator error")
		c.pub.Publish(status.Event{Role: domain.RoleModerator, Type: status.EventAlert, Error: eff.Err.Error()})
	}
}

func (c *Controller) openSession(ctx context.Context) {
	c.gen++
	gen := c.gen
	sid := session.NewID()

	peer, err := c.peers.NewDataPeer(domain.PurposeControl, sid)
	if err != nil {
		c.post(gen, Event{Kind: EventNegotiationFailed, Err: fmt.Errorf("%w: new peer: %w", core.ErrNegotiation, err)})
		return
	}
	dc, err := peer.CreateDataChannel(channel.Label)
	if err != nil {
		_ = peer.Close()
		c.post(gen, Event{Kind: EventNegotiationFailed, Err: fmt.Errorf("%w: data channel: %w", core.ErrNegotiation, err)})
		return
	}

	c.ch = channel.New(sid, dc, channel.Handlers{
		OnOpen:  func() { c.post(gen, Event{Kind: EventChannelOpen}) },
		OnClose: func() { c.post(gen, Event{Kind: EventChannelClosed}) },
		OnMessage: func(text string) {
			msg := protocol.ParseModerator(text)
			if msg.Kind == protocol.KindUnknown {
				c.logger.Warn().Str("msg", text).Msg("unrecognized message dropped")
				return
			}
			c.post(gen, Event{Kind: EventInbound, Msg: msg})
		},
		OnLog: func(line string) {
			c.pub.Publish(status.Event{Role: domain.RoleModerator, Type: status.EventLog, Line: line})
		},
	})
	c.sess = session.New(sid, domain.PurposeControl, peer, c.exchanger)

	sess := c.sess
	c.wg.Go(func() {
		err := sess.Negotiate(ctx)
		if err == nil || errors.Is(err, core.ErrSessionClosed) || ctx.Err() != nil {
			return
		}
		c.post(gen, Event{Kind: EventNegotiationFailed, Err: err})
	})
}
