// Package stream delivers a user's wallet transaction changes together with
// the health of the underlying subscription.
package stream

import "context"

// Status is a connection-level notification of a subscription.
type Status string

const (
	StatusSubscribed   Status = "SUBSCRIBED"
	StatusChannelError Status = "CHANNEL_ERROR"
	StatusTimedOut     Status = "TIMED_OUT"
	StatusClosed       Status = "CLOSED"
)

// Message is either a status change (Status set) or a change payload.
type Message struct {
	Status  Status
	Payload []byte
	Err     error
}

// Subscription is one live channel. Messages is closed once the channel
// is finished for good.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Source opens subscriptions to a user's change feed. channelID is unique per
// attempt and only used for diagnostics by the source.
type Source interface {
	Subscribe(ctx context.Context, channelID, userID string) (Subscription, error)
}
