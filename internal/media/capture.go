// Package media provides the local audio sources attached to the audio
// session.
package media

import (
	"context"
	"fmt"

	"github.com/dkeye/SpeakInTurn/internal/core"
)

type Source string

const (
	SourceMicrophone Source = "microphone"
	SourceFile       Source = "file"
)

// Capturer acquires outbound tracks. The caller owns the returned tracks and
// must Stop each of them.
type Capturer interface {
	Capture(ctx context.Context) ([]core.OutboundTrack, error)
}

// NewCapturer selects a capture source by name.
func NewCapturer(source Source, file string, loop bool) (Capturer, error) {
	switch source {
	case SourceMicrophone:
		return NewMicrophone(), nil
	case SourceFile:
		if file == "" {
			return nil, fmt.Errorf("%w: file source needs a path", core.ErrMediaAcquisition)
		}
		return NewOggCapturer(file, loop), nil
	}
	return nil, fmt.Errorf("%w: unknown audio source %q", core.ErrMediaAcquisition, source)
}
