package eventbus

import (
	"context"
	"fmt"

	"github.com/mcptrust/execgate/internal/observability/logging"
)

const component = "eventbus"

// Emitter fans events out to publishers, logging and discarding any error
// or panic. A nil *Emitter is valid and drops everything.
type Emitter struct {
	publishers []Publisher
	log        logging.Logger
}

// NewEmitter builds an emitter over the given publishers.
func NewEmitter(log logging.Logger, publishers ...Publisher) *Emitter {
	return &Emitter{
		publishers: publishers,
		log:        logging.OrNop(log),
	}
}

// Emit publishes an event of the given type. It never returns an error.
func (e *Emitter) Emit(ctx context.Context, typ string, payload map[string]any) {
	if e == nil {
		return
	}
	evt := New(typ, payload)
	for _, p := range e.publishers {
		e.publishOne(ctx, p, evt)
	}
}

func (e *Emitter) publishOne(ctx context.Context, p Publisher, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Warn(component, "publisher panicked", "type", evt.Type, "panic", fmt.Sprint(r))
		}
	}()
	if err := p.Publish(ctx, evt); err != nil {
		e.log.Warn(component, "publish failed", "type", evt.Type, "error", err.Error())
	}
}
