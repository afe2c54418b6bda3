package link

// Status is the lifecycle state of one managed link.
type Status int

const (
	Disconnected Status = iota
	Connecting
	Connected
	Recovering
)

func (s Status) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Recovering:
		return "Recovering"
	default:
		return "Unknown"
	}
}
