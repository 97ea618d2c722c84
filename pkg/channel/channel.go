package channel

import (
	"context"

	"linklog/pkg/bus"
)

// Handler accepts one inbound message event. It must not block; an error
// means the receiving side has shut down.
type Handler func(context.Context, bus.InboundMessage) error

// Adapter keeps one realtime connection to an external workspace open and
// forwards its message events until the connection ends or ctx is done.
type Adapter interface {
	Name() string
	Run(context.Context, Handler) error
}
