package pubsub

import "context"

// Broadcaster fans out newly ingested records to subscribers.
type Broadcaster interface {
	Publish(ctx context.Context, subject string, data any) error
	Health(ctx context.Context) error
}
