package eventstreamutils

import (
	"fmt"
	"time"

	"github.com/engramlabs/engram/pkg/eventstream"
	"github.com/engramlabs/engram/pkg/eventstream/kafka"
	"github.com/engramlabs/engram/pkg/eventstream/nop"
)

type NewPublisherOpts struct {
	Provider string
	Brokers  []string
	Topic    string
}

// NewPublisher builds a lifecycle event publisher for the configured provider.
func NewPublisher(o *NewPublisherOpts) (eventstream.Publisher, error) {
	switch o.Provider {
	case "kafka":
		return kafka.NewPublisher(kafka.Config{
			Brokers:      o.Brokers,
			Topic:        o.Topic,
			BatchTimeout: time.Second,
		})
	case "nop", "":
		return nop.NewPublisher(), nil
	default:
		return nil, fmt.Errorf("unknown event stream provider: %s", o.Provider)
	}
}
