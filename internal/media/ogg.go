package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/SpeakInTurn/internal/core"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

const (
	opusClockRate   = 48000
	opusPayloadType = 111
	rtpMTU          = 1200
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateDelete
)

// OggCapturer streams a prerecorded Ogg/Opus file as the outbound audio.
type OggCapturer struct {
	path string
	loop bool
}

func NewOggCapturer(path string, loop bool) *OggCapturer {
	return &OggCapturer{path: path, loop: loop}
}

func (c *OggCapturer) Capture(context.Context) ([]core.OutboundTrack, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrMediaAcquisition, err)
	}
	reader, _, err := oggreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s: %w", core.ErrMediaAcquisition, c.path, err)
	}
	local, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate, Channels: 2},
		"audio", "speakinturn",
	)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %w", core.ErrMediaAcquisition, err)
	}

	t := newOggTrack(f, reader, local, local, c.loop)
	t.start()
	return []core.OutboundTrack{t}, nil
}

type rtpWriter interface {
	WriteRTP(*rtp.Packet) error
}

// OggTrack pumps Ogg pages into an RTP track, one page per packetized
// sample, paced by the granule position.
type OggTrack struct {
	src    io.ReadSeekCloser
	reader *oggreader.OggReader
	local  webrtc.TrackLocal
	out    rtpWriter
	loop   bool

	packetizer rtp.Packetizer
	state      atomic.Int32
	done       chan struct{}
	stopOnce   sync.Once
	wg         conc.WaitGroup
	logger     zerolog.Logger
}

func newOggTrack(src io.ReadSeekCloser, reader *oggreader.OggReader, local webrtc.TrackLocal, out rtpWriter, loop bool) *OggTrack {
	return &OggTrack{
		src:    src,
		reader: reader,
		local:  local,
		out:    out,
		loop:   loop,
		packetizer: rtp.NewPacketizer(rtpMTU, opusPayloadType, 0,
			&codecs.OpusPayloader{}, rtp.NewRandomSequencer(), opusClockRate),
		done:   make(chan struct{}),
		logger: log.With().Str("module", "media.ogg").Logger(),
	}
}

func (t *OggTrack) Local() webrtc.TrackLocal { return t.local }

func (t *OggTrack) State() TrackState { return TrackState(t.state.Load()) }

// Stop ends the pump and releases the file. Safe to call more than once.
func (t *OggTrack) Stop() {
	t.stopOnce.Do(func() {
		t.state.Store(int32(TrackStateDelete))
		close(t.done)
		t.wg.Wait()
		if err := t.src.Close(); err != nil {
			t.logger.Error().Err(err).Msg("close source")
		}
		t.logger.Info().Msg("ogg track stopped")
	})
}

func (t *OggTrack) start() {
	t.wg.Go(t.pump)
}

func (t *OggTrack) pump() {
	var lastGranule uint64
	pages := 0
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		page, header, err := t.reader.ParseNextPage()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				t.logger.Error().Err(err).Msg("read page error, stopping")
				return
			}
			if !t.loop || pages == 0 || !t.rewind() {
				t.logger.Info().Msg("end of file")
				return
			}
			lastGranule, pages = 0, 0
			continue
		}
		if isOpusHeader(page) {
			continue
		}

		samples := uint32(header.GranulePosition - lastGranule)
		if header.GranulePosition < lastGranule {
			samples = 0
		}
		lastGranule = header.GranulePosition
		pages++

		if t.State() == TrackStateDelete {
			return
		}
		for _, pkt := range t.packetizer.Packetize(page, samples) {
			if err := t.out.WriteRTP(pkt); err != nil {
				t.logger.Error().Err(err).Msg("write RTP error, stopping")
				return
			}
		}

		timer.Reset(time.Duration(samples) * time.Second / opusClockRate)
		select {
		case <-t.done:
			return
		case <-timer.C:
		}
	}
}

func (t *OggTrack) rewind() bool {
	if _, err := t.src.Seek(0, io.SeekStart); err != nil {
		t.logger.Error().Err(err).Msg("rewind error")
		return false
	}
	reader, _, err := oggreader.NewWith(t.src)
	if err != nil {
		t.logger.Error().Err(err).Msg("rewind error")
		return false
	}
	t.reader = reader
	return true
}

func isOpusHeader(page []byte) bool {
	return bytes.HasPrefix(page, []byte("OpusHead")) || bytes.HasPrefix(page, []byte("OpusTags"))
}
