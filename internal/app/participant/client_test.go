package participant

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/SpeakInTurn/internal/core"
	"github.com/dkeye/SpeakInTurn/internal/core/coretest"
	"github.com/dkeye/SpeakInTurn/internal/domain"
	"github.com/dkeye/SpeakInTurn/internal/protocol"
	"github.com/dkeye/SpeakInTurn/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

type fakeAudio struct {
	mu     sync.Mutex
	err    error
	starts int
	stops  int
	active bool
}

func (a *fakeAudio) Start(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.starts++
	if a.err != nil {
		return a.err
	}
	a.active = true
	return nil
}

func (a *fakeAudio) Stop() {
	a.mu.Lock()
	a.stops++
	a.active = false
	a.mu.Unlock()
}

func (a *fakeAudio) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

func (a *fakeAudio) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.starts, a.stops
}

type harness struct {
	t      *testing.T
	client *Client
	peers  *coretest.Factory
	ex     *coretest.Exchanger
	audio  *fakeAudio
	rec    *status.Recorder
	cancel context.CancelFunc
	exited chan struct{}
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		t:      t,
		peers:  &coretest.Factory{},
		ex:     &coretest.Exchanger{},
		audio:  &fakeAudio{},
		rec:    &status.Recorder{},
		exited: make(chan struct{}),
	}
	h.client = NewClient(h.peers, h.ex, h.audio, h.rec, Options{PrimaryGrace: 10 * time.Millisecond})
	return h
}

func (h *harness) start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		h.client.Run(ctx)
		close(h.exited)
	}()
	h.t.Cleanup(h.stop)
}

func (h *harness) stop() {
	h.cancel()
	select {
	case <-h.exited:
	case <-time.After(waitFor):
		h.t.Fatal("participant loop did not stop")
	}
}

// connected waits for the n-th primary session to finish negotiating and
// returns its peer and channel.
func (h *harness) connected(n int) (*coretest.Peer, *coretest.DataChannel) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		ps := h.peers.Peers(domain.PurposePrimary)
		return len(ps) >= n && ps[n-1].RemoteDescription() != nil
	}, waitFor, tick)
	p := h.peers.Peers(domain.PurposePrimary)[n-1]
	return p, p.Channel()
}

func (h *harness) waitState(s State) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return h.client.Snapshot().State == s.String()
	}, waitFor, tick)
}

func TestClientQueueRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.start()

	h.client.Join()
	peer, dc := h.connected(1)
	dc.Open()
	h.waitState(StateQueued)
	assert.Equal(t, []string{protocol.EnterQueue}, dc.Sent())

	dc.Deliver("position 3")
	dc.Deliver("position 1")
	require.Eventually(t, func() bool { return h.client.Snapshot().Position == 1 }, waitFor, tick)
	positions := h.rec.Events(status.EventPosition)
	require.Len(t, positions, 2)
	assert.Equal(t, 3, positions[0].Position)

	dc.Deliver("ready")
	h.waitState(StateActive)
	require.Eventually(t, func() bool { return h.audio.Active() }, waitFor, tick)
	assert.True(t, h.client.Snapshot().Audio)

	h.client.Leave()
	h.waitState(StateIdle)
	assert.Equal(t, []string{protocol.EnterQueue, protocol.Leaving}, dc.Sent())
	assert.True(t, dc.Closed())
	require.Eventually(t, func() bool { return peer.Closes() == 1 }, waitFor, tick)

	starts, stops := h.audio.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)

	last, ok := h.rec.Last(status.EventStatus)
	require.True(t, ok)
	assert.Equal(t, StatusLeft, last.Status)
	assert.Equal(t, domain.RoleParticipant, last.Role)
}

func TestClientBumpedSendsNothingAfter(t *testing.T) {
	h := newHarness(t)
	h.start()

	h.client.Join()
	peer, dc := h.connected(1)
	dc.Open()
	dc.Deliver("ready")
	h.waitState(StateActive)

	dc.Deliver("bumped")
	h.waitState(StateIdle)
	h.client.StatusCheck()
	h.client.Leave()

	assert.Never(t, func() bool { return len(dc.Sent()) > 1 }, 50*time.Millisecond, tick)
	assert.Equal(t, []string{protocol.EnterQueue}, dc.Sent())
	require.Eventually(t, func() bool { return peer.Closes() == 1 }, waitFor, tick)
	_, stops := h.audio.counts()
	assert.Equal(t, 1, stops)

	last, _ := h.rec.Last(status.EventStatus)
	assert.Equal(t, StatusBumped, last.Status)
}

func TestClientStatusCheck(t *testing.T) {
	h := newHarness(t)
	h.start()

	h.client.Join()
	_, dc := h.connected(1)
	dc.Open()
	h.waitState(StateQueued)

	h.client.StatusCheck()
	require.Eventually(t, func() bool { return len(dc.Sent()) == 2 }, waitFor, tick)
	assert.Equal(t, protocol.StatusCheck, dc.Sent()[1])
}

func TestClientNegotiationFailure(t *testing.T) {
	h := newHarness(t)
	h.ex.Handler = func(string, []byte) ([]byte, error) { return nil, errors.New("connection refused") }
	h.start()

	h.client.Join()
	require.Eventually(t, func() bool {
		_, ok := h.rec.Last(status.EventAlert)
		return ok
	}, waitFor, tick)
	h.waitState(StateIdle)

	alert, _ := h.rec.Last(status.EventAlert)
	assert.Contains(t, alert.Error, core.ErrExchange.Error())
	peer := h.peers.Last(domain.PurposePrimary)
	require.Eventually(t, func() bool { return peer.Closes() == 1 }, waitFor, tick)

	// a fresh join starts a fresh session
	h.ex.Handler = nil
	h.client.Join()
	h.connected(2)
}

func TestClientDropsStaleSessionEvents(t *testing.T) {
	h := newHarness(t)
	h.start()

	h.client.Join()
	_, old := h.connected(1)
	h.client.Leave()
	h.waitState(StateIdle)

	h.client.Join()
	h.connected(2)
	old.Open()

	assert.Never(t, func() bool {
		return h.client.Snapshot().State != StateConnecting.String()
	}, 50*time.Millisecond, tick)
}

func TestClientAudioFailureAlertsWithoutRollback(t *testing.T) {
	h := newHarness(t)
	h.audio.err = core.ErrMediaAcquisition
	h.start()

	h.client.Join()
	_, dc := h.connected(1)
	dc.Open()
	dc.Deliver("ready")

	require.Eventually(t, func() bool {
		_, ok := h.rec.Last(status.EventAlert)
		return ok
	}, waitFor, tick)
	assert.Equal(t, StateActive.String(), h.client.Snapshot().State)
}

func TestClientShutdownLeaves(t *testing.T) {
	const grace = 150 * time.Millisecond
	h := newHarness(t)
	h.client.opts.PrimaryGrace = grace
	h.start()

	h.client.Join()
	peer, dc := h.connected(1)
	dc.Open()
	h.waitState(StateQueued)

	start := time.Now()
	h.stop()
	assert.GreaterOrEqual(t, time.Since(start), grace, "leaving must get its full grace before the close")
	assert.Equal(t, []string{protocol.EnterQueue, protocol.Leaving}, dc.Sent())
	assert.Equal(t, 1, peer.Closes())
}
