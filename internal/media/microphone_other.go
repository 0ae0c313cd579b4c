//go:build !linux || !cgo

package media

import (
	"context"
	"fmt"

	"github.com/dkeye/SpeakInTurn/internal/core"
)

// Microphone is unavailable on this platform; use the file source instead.
type Microphone struct{}

func NewMicrophone() *Microphone { return &Microphone{} }

func (m *Microphone) Capture(context.Context) ([]core.OutboundTrack, error) {
	return nil, fmt.Errorf("%w: microphone capture needs linux with cgo", core.ErrMediaAcquisition)
}
