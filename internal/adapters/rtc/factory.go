// Package rtc adapts pion/webrtc to the core peer interfaces.
package rtc

import (
	"github.com/dkeye/SpeakInTurn/internal/core"
	"github.com/dkeye/SpeakInTurn/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

func DefaultWebRTCConfig() webrtc.Configuration {
	return Config([]string{"stun:stun.l.google.com:19302"})
}

// Config builds a peer configuration from ICE server URLs.
func Config(iceServers []string) webrtc.Configuration {
	if len(iceServers) == 0 {
		return webrtc.Configuration{}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
	}
}

// Factory creates one fresh Connection per session from a shared API.
type Factory struct {
	api *webrtc.API
	cfg webrtc.Configuration
}

func NewFactory(cfg webrtc.Configuration) (*Factory, error) {
	api, err := NewAPI()
	if err != nil {
		return nil, err
	}
	return &Factory{api: api, cfg: cfg}, nil
}

// NewAPI registers the default codecs and interceptors and routes pion's
// own logging through zerolog.
func NewAPI() (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, err
	}
	se := webrtc.SettingEngine{LoggerFactory: NewLoggerFactory()}
	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	), nil
}

func (f *Factory) NewDataPeer(purpose domain.Purpose, sid core.SessionID) (core.DataPeer, error) {
	return newConnection(f.api, f.cfg, purpose, sid)
}

func (f *Factory) NewMediaPeer(purpose domain.Purpose, sid core.SessionID) (core.MediaPeer, error) {
	return newConnection(f.api, f.cfg, purpose, sid)
}
