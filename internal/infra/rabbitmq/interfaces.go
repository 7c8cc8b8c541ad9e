package rabbitmq

import "context"

// PublisherInterface publishes an order event under a routing pattern such as
// "order.placed".
type PublisherInterface interface {
	Publish(ctx context.Context, pattern string, data any) error
}

var _ PublisherInterface = (*Publisher)(nil)
