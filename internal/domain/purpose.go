package domain

// Purpose identifies what a negotiated session is for.
// Each purpose is exchanged against its own signaling path.
type Purpose string

const (
	PurposePrimary Purpose = "primary"
	PurposeAudio   Purpose = "audio"
	PurposeControl Purpose = "control"
)

func (p Purpose) Path() string {
	switch p {
	case PurposeAudio:
		return "/audio_offer"
	case PurposeControl:
		return "/control_offer"
	default:
		return "/offer"
	}
}
