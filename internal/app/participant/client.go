package participant

import (
	"context"
	"errors"
	"fmt"
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

// Audio is the secondary session started on promotion.
type Audio interface {
	Start(ctx context.Context) error
	Stop()
	Active() bool
}

type Options struct {
	// PrimaryGrace delays closing the primary session after leaving so the
	// final message can drain.
	PrimaryGrace time.Duration
}

func DefaultOptions() Options {
	return Options{PrimaryGrace: 5 * time.Second}
}

// loopEvent is an Event tagged with the session generation that produced it.
// Generation zero marks local intents, which are always accepted.
type loopEvent struct {
	gen uint64
	ev  Event
}

// Snapshot is the participant view served by the control API.
type Snapshot struct {
	State    string `json:"state"`
	Status   string `json:"status"`
	Position int    `json:"position"`
	Audio    bool   `json:"audio"`
}

// Client runs the participant machine on a single goroutine and executes its
// effects against the primary session, the ordered channel and the audio
// manager.
type Client struct {
	peers     core.PeerFactory
	exchanger core.Exchanger
	audio     Audio
	pub       status.Publisher
	opts      Options
	logger    zerolog.Logger

	box *mailbox.Mailbox[loopEvent]
	wg  conc.WaitGroup

	// owned by the loop goroutine
	m    Machine
	gen  uint64
	sess *session.Session
	ch   *channel.Ordered

	mu   sync.Mutex
	snap Machine
}

func NewClient(peers core.PeerFactory, exchanger core.Exchanger, audio Audio, pub status.Publisher, opts Options) *Client {
	return &Client{
		peers:     peers,
		exchanger: exchanger,
		audio:     audio,
		pub:       pub,
		opts:      opts,
		logger:    log.With().Str("module", "app.participant").Logger(),
		box:       mailbox.New[loopEvent](),
		m:         NewMachine(),
		snap:      NewMachine(),
	}
}

func (c *Client) Join()        { c.box.Put(loopEvent{ev: Event{Kind: EventJoin}}) }
func (c *Client) Leave()       { c.box.Put(loopEvent{ev: Event{Kind: EventLeave}}) }
func (c *Client) StatusCheck() { c.box.Put(loopEvent{ev: Event{Kind: EventStatusCheck}}) }

func (c *Client) Snapshot() Snapshot {
	c.mu.Lock()
	m := c.snap
	c.mu.Unlock()
	return Snapshot{
		State:    m.State.String(),
		Status:   m.Status,
		Position: m.Position,
		Audio:    c.audio.Active(),
	}
}

// Run processes events until ctx is done. On exit the participant leaves the
// queue and Run waits for every helper goroutine, pending grace closes
// included.
func (c *Client) Run(ctx context.Context) {
	c.logger.Info().Msg("participant loop started")
	for {
		select {
		case <-ctx.Done():
			c.handle(ctx, loopEvent{ev: Event{Kind: EventLeave}})
			c.box.Close()
			c.wg.Wait()
			c.logger.Info().Msg("participant loop stopped")
			return
		case <-c.box.Ready():
			for _, le := range c.box.Drain() {
				c.handle(ctx, le)
			}
		}
	}
}

func (c *Client) handle(ctx context.Context, le loopEvent) {
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

func (c *Client) post(gen uint64, ev Event) {
	c.box.Put(loopEvent{gen: gen, ev: ev})
}

func (c *Client) apply(ctx context.Context, eff Effect) {
	switch eff.Kind {
	case EffectOpenSession:
		c.openSession(ctx)
	case EffectSend:
		if c.ch != nil {
			c.ch.Send(eff.Text)
		}
	case EffectStartAudio:
		gen := c.gen
		c.wg.Go(func() {
			if err := c.audio.Start(ctx); err != nil {
				c.post(gen, Event{Kind: EventAudioFailed, Err: err})
			}
		})
	case EffectStopAudio:
		c.audio.Stop()
	case EffectCloseChannel:
		if c.ch != nil {
			c.ch.Close()
			c.ch = nil
		}
	case EffectScheduleSessionClose:
		c.ch = nil
		if sess := c.sess; sess != nil {
			c.sess = nil
			c.wg.Go(func() { sess.CloseAfter(c.opts.PrimaryGrace) })
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
		c.pub.Publish(status.Event{Role: domain.RoleParticipant, Type: status.EventStatus, Status: eff.Text})
	case EffectPosition:
		c.pub.Publish(status.Event{Role: domain.RoleParticipant, Type: status.EventPosition, Position: eff.Position})
	case EffectAlert:
		c.logger.Error().Err(eff.Err).Msg("participant error")
		c.pub.Publish(status.Event{Role: domain.RoleParticipant, Type: status.EventAlert, Error: eff.Err.Error()})
	}
}

// openSession starts a fresh primary session under a new generation and
// negotiates it in the background.
func (c *Client) openSession(ctx context.Context) {
	c.gen++
	gen := c.gen
	sid := session.NewID()

	peer, err := c.peers.NewDataPeer(domain.PurposePrimary, sid)
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
			msg := protocol.ParseParticipant(text)
			if msg.Kind == protocol.KindUnknown {
				c.logger.Warn().Str("msg", text).Msg("unrecognized message dropped")
				return
			}
			c.post(gen, Event{Kind: EventInbound, Msg: msg})
		},
		OnLog: func(line string) {
			c.pub.Publish(status.Event{Role: domain.RoleParticipant, Type: status.EventLog, Line: line})
		},
	})
	c.sess = session.New(sid, domain.PurposePrimary, peer, c.exchanger)

	sess := c.sess
	c.wg.Go(func() {
		err := sess.Negotiate(ctx)
		if err == nil || errors.Is(err, core.ErrSessionClosed) || ctx.Err() != nil {
			return
		}
		c.post(gen, Event{Kind: EventNegotiationFailed, Err: err})
	})
}
