package sensor

// EventKind tells whether another volume started or stopped overlapping a listener.
type EventKind uint8

const (
	Entering EventKind = iota + 1
	Leaving
)

func (k EventKind) String() string {
	switch k {
	case Entering:
		return "entering"
	case Leaving:
		return "leaving"
	default:
		return "unknown"
	}
}

// Event reports a change in the overlap set of listener Self.
type Event struct {
	Kind EventKind
	// Self is the listener receiving the event.
	Self VolumeID
	// Other is the volume that entered or left.
	Other VolumeID
	// OtherOwner is the owner reference Other was created with. It is still
	// set when Other was destroyed during the sweep that reports it leaving.
	OtherOwner any
}

// EventSink receives the events of one volume. Sinks are called from Update,
// after every query of the sweep has finished. A sink may create, destroy or
// modify volumes; those changes are seen by the next Update. A sink must not
// call Update.
type EventSink interface {
	OnSensorEvent(Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(Event)

func (f SinkFunc) OnSensorEvent(e Event) { f(e) }
