package status

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/SpeakInTurn/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("subscriber closed")
)

const (
	sendBuffer   = 32
	writeTimeout = 5 * time.Second
)

// WSConn is an indirection over *websocket.Conn to ease testing.
type WSConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(mt int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type subscriber struct {
	conn WSConn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (s *subscriber) TrySend(b []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.send <- b:
	default:
		return ErrBackpressure
	}
	return nil
}

func (s *subscriber) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.send)
	_ = s.conn.Close()
	s.mu.Unlock()
}

// Hub fans published events out to subscribers and remembers the latest
// state events so late subscribers start from the current view.
type Hub struct {
	policy Policy

	mu   sync.RWMutex
	subs map[core.SessionID]*subscriber
	last map[EventType][]byte

	wg conc.WaitGroup
}

var replayOrder = []EventType{EventStatus, EventPosition, EventRoster, EventActive}

func NewHub(policy Policy) *Hub {
	if policy == nil {
		policy = SimplePolicy{}
	}
	return &Hub{
		policy: policy,
		subs:   make(map[core.SessionID]*subscriber),
		last:   make(map[EventType][]byte),
	}
}

func (h *Hub) Publish(ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "status").Msg("publish marshal")
		return
	}
	log.Debug().Str("module", "status").Str("role", string(ev.Role)).Str("type", string(ev.Type)).RawJSON("event", b).Msg("publish")

	h.mu.Lock()
	switch ev.Type {
	case EventAlert, EventLog:
	default:
		h.last[ev.Type] = b
	}
	snapshot := make(map[core.SessionID]*subscriber, len(h.subs))
	for sid, s := range h.subs {
		snapshot[sid] = s
	}
	h.mu.Unlock()

	for sid, s := range snapshot {
		err := s.TrySend(b)
		if err == nil {
			continue
		}
		if errors.Is(err, ErrClosed) {
			h.unsubscribeIf(sid, s)
			continue
		}
		switch h.policy.OnBackPressure(sid, len(s.send)) {
		case KickSubscriber:
			log.Warn().Str("module", "status").Str("sid", string(sid)).Msg("slow subscriber kicked")
			h.unsubscribeIf(sid, s)
		case DropEvent, NoAction:
		}
	}
}

// Subscribe registers conn under sid and starts its pumps. The pumps stop
// when ctx is done, the peer goes away, or the subscriber is kicked.
func (h *Hub) Subscribe(ctx context.Context, sid core.SessionID, conn WSConn) {
	s := &subscriber{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	if old, ok := h.subs[sid]; ok {
		old.Close()
	}
	h.subs[sid] = s
	for _, t := range replayOrder {
		if b, ok := h.last[t]; ok {
			s.send <- b
		}
	}
	h.mu.Unlock()
	log.Info().Str("module", "status").Str("sid", string(sid)).Msg("subscriber added")

	ctx, cancel := context.WithCancel(ctx)
	h.wg.Go(func() {
		defer cancel()
		h.writePump(ctx, sid, s)
	})
	h.wg.Go(func() {
		defer cancel()
		h.readPump(ctx, sid, s)
	})
}

func (h *Hub) Unsubscribe(sid core.SessionID) {
	h.mu.Lock()
	s, ok := h.subs[sid]
	if ok {
		delete(h.subs, sid)
	}
	h.mu.Unlock()
	if ok {
		s.Close()
		log.Info().Str("module", "status").Str("sid", string(sid)).Msg("subscriber removed")
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects everyone and waits for the pumps.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[core.SessionID]*subscriber)
	h.mu.Unlock()
	for _, s := range subs {
		s.Close()
	}
	h.wg.Wait()
}

func (h *Hub) writePump(ctx context.Context, sid core.SessionID, s *subscriber) {
	defer h.unsubscribeIf(sid, s)
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-s.send:
			if !ok {
				return
			}
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				log.Error().Err(err).Str("module", "status").Msg("writePump set deadline")
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "status").Str("sid", string(sid)).Msg("writePump write error")
				return
			}
		}
	}
}

// readPump only watches for the peer going away; inbound frames are ignored.
func (h *Hub) readPump(ctx context.Context, sid core.SessionID, s *subscriber) {
	defer h.unsubscribeIf(sid, s)
	for {
		if ctx.Err() != nil {
			return
		}
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// unsubscribeIf removes sid only if it still maps to s; a reconnect under the
// same sid must not be torn down by the old pumps.
func (h *Hub) unsubscribeIf(sid core.SessionID, s *subscriber) {
	h.mu.Lock()
	cur, ok := h.subs[sid]
	if ok && cur == s {
		delete(h.subs, sid)
	}
	h.mu.Unlock()
	s.Close()
}
