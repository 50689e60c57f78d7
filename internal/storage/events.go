package storage

import "context"

// ObjectCreated announces that an object finished uploading and is readable
// under Key.
type ObjectCreated struct {
	Key string
}

// Notifier is the upload-completed event channel between the HTTP surface and
// the processing workers. Delivery is at-least-once from the consumer's point
// of view (a publisher retrying after a crash may enqueue the same key twice);
// consumers are expected to be idempotent.
type Notifier struct {
	events chan ObjectCreated
}

// NewNotifier creates a notifier with the given buffer depth.
func NewNotifier(buffer int) *Notifier {
	if buffer < 1 {
		buffer = 1
	}
	return &Notifier{events: make(chan ObjectCreated, buffer)}
}

// Publish enqueues an event, blocking for backpressure until the consumer
// drains or ctx is done.
func (n *Notifier) Publish(ctx context.Context, ev ObjectCreated) error {
	select {
	case n.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events returns the shared consumer channel. Multiple workers may receive
// from it concurrently; each event is handed to one of them.
func (n *Notifier) Events() <-chan ObjectCreated {
	return n.events
}
