package session

type State int

const (
	StateNew State = iota
	StateOffering
	StateGatheringICE
	StateAwaitingAnswer
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateOffering:
		return "offering"
	case StateGatheringICE:
		return "gathering-ice"
	case StateAwaitingAnswer:
		return "awaiting-answer"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}
