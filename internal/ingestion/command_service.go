package ingestion

import (
	"context"
	"fmt"

	"CoffeeFutures/internal/event"
)

// CommandService accepts typed commands from the HTTP admin surface and
// queues them for the core. Admin operations (market creation, pause, role
// rotation) arrive here; the high-volume paths arrive over NATS.
type CommandService struct {
	commandChan chan<- event.Command
}

func NewCommandService(commandChan chan<- event.Command) *CommandService {
	return &CommandService{commandChan: commandChan}
}

// Submit queues a command for the core. Blocks under backpressure until the
// core drains or the context is cancelled.
func (s *CommandService) Submit(ctx context.Context, cmd event.Command) error {
	select {
	case s.commandChan <- cmd:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("submit %s: %w", cmd.EventType(), ctx.Err())
	}
}
