package progress

import "context"

// Sink receives flushed batches from a Hub. Consume may run concurrently with
// other sinks but never with itself; Close is called once after the last batch.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter accepts single events. Hub implements it; the engine and harvester
// only see a Reporter wrapping one.
type Emitter interface {
	Emit(evt Event)
}
