// Package channel gates an ordered data channel behind a "can send" flag.
package channel

import (
	"sync"
	"sync/atomic"

	"github.com/dkeye/SpeakInTurn/internal/core"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Label of the ordered control channel negotiated on every primary session.
const Label = "chat"

type Handlers struct {
	OnOpen    func()
	OnClose   func()
	OnMessage func(text string)
	// OnLog receives every sent ("> ") and received ("< ") line.
	OnLog func(line string)
}

// Ordered sends and receives opaque text messages in order. Sends made while
// the channel is not open are dropped.
type Ordered struct {
	dc       core.DataChannel
	h        Handlers
	canSend  atomic.Bool
	closeOne sync.Once
	logger   zerolog.Logger
}

func New(sid core.SessionID, dc core.DataChannel, h Handlers) *Ordered {
	o := &Ordered{
		dc: dc,
		h:  h,
		logger: log.With().
			Str("module", "app.channel").
			Str("sid", string(sid)).
			Str("label", dc.Label()).
			Logger(),
	}
	dc.OnOpen(func() {
		o.canSend.Store(true)
		o.logger.Info().Msg("channel open")
		if o.h.OnOpen != nil {
			o.h.OnOpen()
		}
	})
	dc.OnClose(func() {
		o.canSend.Store(false)
		o.logger.Info().Msg("channel closed")
		if o.h.OnClose != nil {
			o.h.OnClose()
		}
	})
	dc.OnMessage(func(text string) {
		o.logger.Debug().Str("msg", text).Msg("<")
		o.emitLog("< " + text)
		if o.h.OnMessage != nil {
			o.h.OnMessage(text)
		}
	})
	return o
}

func (o *Ordered) CanSend() bool { return o.canSend.Load() }

// Send reports whether the message was handed to the transport.
func (o *Ordered) Send(text string) bool {
	if !o.canSend.Load() {
		o.logger.Debug().Str("msg", text).Msg("dropped, channel not open")
		return false
	}
	if err := o.dc.SendText(text); err != nil {
		o.logger.Error().Err(err).Str("msg", text).Msg("send error")
		return false
	}
	o.logger.Debug().Str("msg", text).Msg(">")
	o.emitLog("> " + text)
	return true
}

func (o *Ordered) Close() {
	o.closeOne.Do(func() {
		o.canSend.Store(false)
		if err := o.dc.Close(); err != nil {
			o.logger.Error().Err(err).Msg("close error")
		}
	})
}

func (o *Ordered) emitLog(line string) {
	if o.h.OnLog != nil {
		o.h.OnLog(line)
	}
}
