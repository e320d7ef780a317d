// Package deliver routes approved deliverable content to its configured
// destination: a telegram chat, a webhook, or the process log.
package deliver

import (
	"context"
	"fmt"

	"github.com/stellarlinkco/briefops/internal/deliverable"
)

// Sender delivers content to one destination type.
type Sender interface {
	Send(ctx context.Context, target, content string) error
}

// Router dispatches on destination type.
type Router struct {
	senders map[deliverable.DestinationType]Sender
}

func NewRouter() *Router {
	return &Router{
		senders: map[deliverable.DestinationType]Sender{
			deliverable.DestLog: &LogSender{},
		},
	}
}

// Register installs or replaces the sender for a destination type.
func (r *Router) Register(t deliverable.DestinationType, s Sender) {
	r.senders[t] = s
}

func (r *Router) Deliver(ctx context.Context, d *deliverable.Deliverable, content string) error {
	sender, ok := r.senders[d.Destination.Type]
	if !ok {
		return fmt.Errorf("deliver: no sender for destination %q", d.Destination.Type)
	}
	if err := sender.Send(ctx, d.Destination.Target, content); err != nil {
		return fmt.Errorf("deliver to %s: %w", d.Destination.Type, err)
	}
	return nil
}
