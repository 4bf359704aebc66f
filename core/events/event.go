package events

// Event is a committed state change as seen by subscribers.
type Event interface {
	EventType() string
}

// Emitter receives events once the writes behind them are durable.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards every event.
type NoopEmitter struct{}

// Emit implements Emitter.
func (NoopEmitter) Emit(Event) {}

// Fanout delivers each event to every emitter in order. Nil entries are
// skipped.
type Fanout []Emitter

// Emit implements Emitter.
func (f Fanout) Emit(evt Event) {
	for _, e := range f {
		if e != nil {
			e.Emit(evt)
		}
	}
}
