package moderator

import (
	"errors"
	"testing"

	"github.com/dkeye/SpeakInTurn/internal/core"
	"github.com/dkeye/SpeakInTurn/internal/domain"
	"github.com/dkeye/SpeakInTurn/internal/protocol"
	"github.com/stretchr/testify/assert"
)

func sends(effects []Effect) []string {
	var out []string
	for _, e := range effects {
		if e.Kind == EffectSend {
			out = append(out, e.Text)
		}
	}
	return out
}

func in(raw string) Event {
	return Event{Kind: EventInbound, Msg: protocol.ParseModerator(raw)}
}

func ids(s ...string) []domain.ParticipantID {
	out := make([]domain.ParticipantID, 0, len(s))
	for _, v := range s {
		out = append(out, domain.ParticipantID(v))
	}
	return out
}

func live(t *testing.T) Machine {
	t.Helper()
	m, _ := NewMachine().Handle(Event{Kind: EventGoLive})
	m, eff := m.Handle(Event{Kind: EventChannelOpen})
	assert.Equal(t, StateLive, m.State)
	assert.Equal(t, []string{protocol.Live}, sends(eff))
	return m
}

func feed(m Machine, raws ...string) Machine {
	for _, raw := range raws {
		m, _ = m.Handle(in(raw))
	}
	return m
}

func TestGoLiveSendsLive(t *testing.T) {
	m, eff := NewMachine().Handle(Event{Kind: EventGoLive})
	assert.Equal(t, StateConnecting, m.State)
	assert.Equal(t, EffectOpenSession, eff[0].Kind)

	m = live(t)
	assert.Equal(t, StatusLive, m.Status)
}

func TestRosterReplay(t *testing.T) {
	cases := []struct {
		name   string
		msgs   []string
		roster []domain.ParticipantID
	}{
		{"adds keep order", []string{"add a", "add b", "add c"}, ids("a", "b", "c")},
		{"rem first match", []string{"add a", "add b", "add a", "rem a"}, ids("b", "a")},
		{"rem unknown", []string{"add a", "rem zz"}, ids("a")},
		{"duplicate add kept", []string{"add a", "add a"}, ids("a", "a")},
		{"colon delimiter", []string{"add:a", "add b", "rem:b"}, ids("a")},
		{"garbage ignored", []string{"add a", "hello", "adda", "add "}, ids("a")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := feed(live(t), tc.msgs...)
			assert.Equal(t, tc.roster, m.Roster)
		})
	}
}

func TestInboundActiveLeavesRoster(t *testing.T) {
	m := feed(live(t), "add a", "add b", "active b")
	assert.Equal(t, domain.ParticipantID("b"), m.Active)
	assert.Equal(t, ids("a"), m.Roster)
	assert.False(t, m.Pending)
}

func TestRemOfActiveIsDone(t *testing.T) {
	m := feed(live(t), "add a", "active a", "rem a")
	assert.Empty(t, m.Active)
	assert.Empty(t, m.Roster)

	_, eff := feed(live(t), "add a", "active a").Handle(in("rem a"))
	assert.Contains(t, eff, Effect{Kind: EffectActive})
}

func TestActivateDeactivatesPreviousFirst(t *testing.T) {
	m := feed(live(t), "add a", "add b")
	m, eff := m.Handle(Event{Kind: EventActivate, ID: "a"})
	assert.Equal(t, []string{protocol.Activate("a")}, sends(eff))
	assert.True(t, m.Pending)
	assert.Equal(t, ids("b"), m.Roster)

	m, eff = m.Handle(Event{Kind: EventActivate, ID: "b"})
	assert.Equal(t, []string{protocol.Deactivate("a"), protocol.Activate("b")}, sends(eff))
	assert.Equal(t, domain.ParticipantID("b"), m.Active)
	assert.Empty(t, m.Roster)
	assert.NotContains(t, m.Roster, m.Active)
}

func TestActivateSameIsNoop(t *testing.T) {
	m := feed(live(t), "add a")
	m, _ = m.Handle(Event{Kind: EventActivate, ID: "a"})
	m2, eff := m.Handle(Event{Kind: EventActivate, ID: "a"})
	assert.Equal(t, m, m2)
	assert.Empty(t, eff)
}

func TestInboundActiveOverridesOptimistic(t *testing.T) {
	m := feed(live(t), "add a", "add b")
	m, _ = m.Handle(Event{Kind: EventActivate, ID: "a"})
	m, eff := m.Handle(in("active b"))
	assert.Empty(t, sends(eff))
	assert.Equal(t, domain.ParticipantID("b"), m.Active)
	assert.False(t, m.Pending)
}

func TestStopActive(t *testing.T) {
	m := feed(live(t), "add a", "active a")
	m, eff := m.Handle(Event{Kind: EventStopActive})
	assert.Equal(t, []string{protocol.Deactivate("a")}, sends(eff))
	assert.Empty(t, m.Active)

	_, eff = m.Handle(Event{Kind: EventStopActive})
	assert.Empty(t, eff)
}

func TestShutdownHaltsOnce(t *testing.T) {
	m := live(t)
	m, eff := m.Handle(Event{Kind: EventShutdown})
	assert.Equal(t, StateOffAir, m.State)
	assert.Equal(t, []string{protocol.Halt}, sends(eff))
	assert.Equal(t, StatusDown, m.Status)

	var kinds []EffectKind
	for _, e := range eff {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []EffectKind{EffectSend, EffectStatus, EffectCloseChannel, EffectStopTransceivers, EffectScheduleSessionClose}, kinds)

	_, eff = m.Handle(Event{Kind: EventShutdown})
	assert.Empty(t, eff)
}

func TestShutdownWhileConnectingClosesNow(t *testing.T) {
	m, _ := NewMachine().Handle(Event{Kind: EventGoLive})
	m, eff := m.Handle(Event{Kind: EventShutdown})
	assert.Equal(t, StateOffAir, m.State)
	assert.Equal(t, StatusDown, m.Status)
	assert.Empty(t, sends(eff))

	var kinds []EffectKind
	for _, e := range eff {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []EffectKind{EffectStatus, EffectCloseChannel, EffectCloseSessionNow}, kinds)
}

func TestChannelClosedBeforeOpenGoesOffAir(t *testing.T) {
	m, _ := NewMachine().Handle(Event{Kind: EventGoLive})
	m, eff := m.Handle(Event{Kind: EventChannelClosed})
	assert.Equal(t, StateOffAir, m.State)
	assert.Equal(t, StatusOffAir, m.Status)
	assert.Equal(t, EffectAlert, eff[0].Kind)
	assert.ErrorIs(t, eff[0].Err, core.ErrNegotiation)
	assert.Equal(t, EffectCloseSessionNow, eff[1].Kind)

	m, _ = m.Handle(Event{Kind: EventGoLive})
	assert.Equal(t, StateConnecting, m.State)
}

func TestNegotiationFailedGoesOffAir(t *testing.T) {
	m, _ := NewMachine().Handle(Event{Kind: EventGoLive})
	m, eff := m.Handle(Event{Kind: EventNegotiationFailed, Err: errors.New("refused")})
	assert.Equal(t, StateOffAir, m.State)
	assert.Equal(t, EffectAlert, eff[0].Kind)
	assert.Equal(t, EffectCloseSessionNow, eff[1].Kind)
}

func TestChannelClosedDisconnects(t *testing.T) {
	m, eff := live(t).Handle(Event{Kind: EventChannelClosed})
	assert.Equal(t, StateOffAir, m.State)
	assert.Equal(t, StatusDisconnected, m.Status)
	assert.Equal(t, EffectScheduleSessionClose, eff[1].Kind)
}

func TestHandleDoesNotAliasRoster(t *testing.T) {
	m := feed(live(t), "add a", "add b", "add c")
	before := append([]domain.ParticipantID(nil), m.Roster...)
	_, _ = m.Handle(in("rem b"))
	_, _ = m.Handle(Event{Kind: EventActivate, ID: "a"})
	assert.Equal(t, before, m.Roster)
}

func TestOffAirIgnoresInbound(t *testing.T) {
	m, eff := NewMachine().Handle(in("add a"))
	assert.Empty(t, m.Roster)
	assert.Empty(t, eff)
}
