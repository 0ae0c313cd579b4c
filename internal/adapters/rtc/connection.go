package rtc

import (
	"errors"
	"sync"

	"github.com/dkeye/SpeakInTurn/internal/core"
	"github.com/dkeye/SpeakInTurn/internal/domain"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Connection is a pion PeerConnection seen through the core peer interfaces.
// pion keeps a single gathering handler per connection, so Connection fans
// gathering changes out to its own subscribers.
type Connection struct {
	pc      *webrtc.PeerConnection
	sid     core.SessionID
	purpose domain.Purpose
	logger  zerolog.Logger

	mu      sync.Mutex
	subs    map[int]func(webrtc.ICEGatheringState)
	nextSub int
}

func newConnection(api *webrtc.API, cfg webrtc.Configuration, purpose domain.Purpose, sid core.SessionID) (*Connection, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	c := &Connection{
		pc:      pc,
		sid:     sid,
		purpose: purpose,
		logger: log.With().
			Str("module", "adapters.rtc").
			Str("sid", string(sid)).
			Str("purpose", string(purpose)).
			Logger(),
		subs: make(map[int]func(webrtc.ICEGatheringState)),
	}

	pc.OnICEGatheringStateChange(func(s webrtc.ICEGatheringState) {
		c.logger.Debug().Str("gathering_state", s.String()).Msg("ICE gathering state")
		c.notifyGathering(s)
	})
	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
	})
	pc.OnSignalingStateChange(func(s webrtc.SignalingState) {
		c.logger.Debug().Str("signaling_state", s.String()).Msg("Signaling state")
	})
	return c, nil
}

func (c *Connection) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *Connection) SetLocalDescription(d webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(d)
}

func (c *Connection) LocalDescription() *webrtc.SessionDescription {
	return c.pc.LocalDescription()
}

func (c *Connection) SetRemoteDescription(d webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(d)
}

func (c *Connection) GatheringState() webrtc.ICEGatheringState {
	return c.pc.ICEGatheringState()
}

func (c *Connection) SubscribeGathering(fn func(webrtc.ICEGatheringState)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

func (c *Connection) notifyGathering(s webrtc.ICEGatheringState) {
	c.mu.Lock()
	fns := make([]func(webrtc.ICEGatheringState), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (c *Connection) StopTransceivers() {
	for _, tr := range c.pc.GetTransceivers() {
		if err := tr.Stop(); err != nil {
			c.logger.Error().Err(err).Msg("transceiver stop error")
		}
	}
}

// AddTrack attaches a local track and drains its RTCP so interceptors keep
// running.
func (c *Connection) AddTrack(t webrtc.TrackLocal) error {
	if t == nil {
		return errors.New("nil track")
	}
	sender, err := c.pc.AddTrack(t)
	if err != nil {
		return err
	}
	go c.drainRTCP(sender)
	return nil
}

func (c *Connection) drainRTCP(sender *webrtc.RTPSender) {
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, p := range pkts {
			if rr, ok := p.(*rtcp.ReceiverReport); ok {
				for _, r := range rr.Reports {
					c.logger.Trace().
						Uint32("ssrc", r.SSRC).
						Uint8("fraction_lost", r.FractionLost).
						Uint32("jitter", r.Jitter).
						Msg("receiver report")
				}
			}
		}
	}
}

func (c *Connection) CreateDataChannel(label string) (core.DataChannel, error) {
	ordered := true
	dc, err := c.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, err
	}
	return &dataChannel{dc: dc}, nil
}

func (c *Connection) Close() error {
	if err := c.pc.Close(); err != nil {
		c.logger.Error().Err(err).Msg("close error")
		return err
	}
	c.logger.Info().Msg("closed")
	return nil
}

type dataChannel struct {
	dc *webrtc.DataChannel
}

func (d *dataChannel) Label() string              { return d.dc.Label() }
func (d *dataChannel) SendText(text string) error { return d.dc.SendText(text) }
func (d *dataChannel) OnOpen(fn func())           { d.dc.OnOpen(fn) }
func (d *dataChannel) OnClose(fn func())          { d.dc.OnClose(fn) }
func (d *dataChannel) Close() error               { return d.dc.Close() }

func (d *dataChannel) OnMessage(fn func(string)) {
	d.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(string(msg.Data))
	})
}
