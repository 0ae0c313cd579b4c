package channel

import (
	"testing"

	"github.com/dkeye/SpeakInTurn/internal/core/coretest"
	"github.com/stretchr/testify/assert"
)

func TestSendDroppedUntilOpen(t *testing.T) {
	dc := coretest.NewDataChannel(Label)
	o := New("s1", dc, Handlers{})

	assert.False(t, o.CanSend())
	assert.False(t, o.Send("enterqueue"))
	assert.Empty(t, dc.Sent())

	dc.Open()
	assert.True(t, o.CanSend())
	assert.True(t, o.Send("enterqueue"))
	assert.True(t, o.Send("status-check"))
	assert.Equal(t, []string{"enterqueue", "status-check"}, dc.Sent())
}

func TestRemoteCloseClearsCanSend(t *testing.T) {
	dc := coretest.NewDataChannel(Label)
	closed := 0
	o := New("s1", dc, Handlers{OnClose: func() { closed++ }})
	dc.Open()

	dc.RemoteClose()
	assert.False(t, o.CanSend())
	assert.False(t, o.Send("leaving"))
	assert.Empty(t, dc.Sent())
	assert.Equal(t, 1, closed)
}

func TestInboundAndLog(t *testing.T) {
	dc := coretest.NewDataChannel(Label)
	var got, lines []string
	o := New("s1", dc, Handlers{
		OnMessage: func(s string) { got = append(got, s) },
		OnLog:     func(l string) { lines = append(lines, l) },
	})
	dc.Open()
	dc.Deliver("position 2")
	o.Send("status-check")
	dc.Deliver("ready")

	assert.Equal(t, []string{"position 2", "ready"}, got)
	assert.Equal(t, []string{"< position 2", "> status-check", "< ready"}, lines)
}

func TestCloseOnce(t *testing.T) {
	dc := coretest.NewDataChannel(Label)
	o := New("s1", dc, Handlers{})
	dc.Open()
	o.Close()
	o.Close()
	assert.False(t, o.CanSend())
	assert.Equal(t, 1, dc.Closes())
}
