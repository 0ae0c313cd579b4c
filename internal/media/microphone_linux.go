//go:build linux && cgo

package media

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/SpeakInTurn/internal/core"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Microphone captures the default input device and encodes it to Opus.
type Microphone struct{}

func NewMicrophone() *Microphone { return &Microphone{} }

func (m *Microphone) Capture(context.Context) ([]core.OutboundTrack, error) {
	logger := log.With().Str("module", "media.microphone").Logger()

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("%w: opus params: %w", core.ErrMediaAcquisition, err)
	}
	selector := mediadevices.NewCodecSelector(mediadevices.WithAudioEncoders(&opusParams))

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(*mediadevices.MediaTrackConstraints) {},
		Codec: selector,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrMediaAcquisition, err)
	}

	var out []core.OutboundTrack
	for _, t := range stream.GetAudioTracks() {
		t.OnEnded(func(err error) {
			if err != nil {
				logger.Error().Err(err).Msg("microphone track ended")
			}
		})
		out = append(out, &deviceTrack{track: t})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no audio track", core.ErrMediaAcquisition)
	}
	logger.Info().Int("tracks", len(out)).Msg("microphone captured")
	return out, nil
}

type deviceTrack struct {
	track mediadevices.Track
	once  sync.Once
}

func (d *deviceTrack) Local() webrtc.TrackLocal { return d.track }

func (d *deviceTrack) Stop() {
	d.once.Do(func() { _ = d.track.Close() })
}
