package es

import "context"

// CommandBus routes commands to their registered handlers.
type CommandBus interface {
	Dispatch(ctx context.Context, cmd Command) (*DispatchResult, error)
}

// NewCommandBus creates a new bus from a registry.
func NewCommandBus(registry CommandRegistry) CommandBus {
	return &commandBus{
		registry: registry,
	}
}

type commandBus struct {
	registry CommandRegistry
}

func (b *commandBus) Dispatch(ctx context.Context, cmd Command) (*DispatchResult, error) {
	handler, err := b.registry.GetHandler(cmd)
	if err != nil {
		return nil, err
	}
	return handler.HandleCommand(ctx, cmd)
}
