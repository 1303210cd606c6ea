package agents

import (
	"context"
	"sync"

	"tradecore/pkg/config"
	"tradecore/pkg/logx"
	"tradecore/pkg/proto"
)

// maxRecentEvents bounds the per-agent consumed-event window.
const maxRecentEvents = 64

// BaseAgent carries the identity, subscriptions, and consumed-event window
// shared by every reference agent. Concrete agents embed it and override
// ProduceSignal; the default behavior is to abstain.
type BaseAgent struct {
	id       string
	category proto.RoleCategory
	subs     []proto.RoleCategory
	logger   *logx.Logger

	mu     sync.Mutex
	recent []*proto.Event
}

func newBaseAgent(role config.AgentRole) BaseAgent {
	return BaseAgent{
		id:       role.ID,
		category: role.Category,
		subs:     role.Subscribes,
		logger:   logx.NewLogger("agent." + role.ID),
	}
}

func (b *BaseAgent) GetID() string                       { return b.id }
func (b *BaseAgent) Category() proto.RoleCategory        { return b.category }
func (b *BaseAgent) Subscriptions() []proto.RoleCategory { return b.subs }

// ProduceSignal abstains. Signal-producing agents override this.
func (b *BaseAgent) ProduceSignal(context.Context, TickContext) (*proto.Signal, error) {
	return nil, nil
}

// ConsumeEvent appends to the bounded recent-event window.
func (b *BaseAgent) ConsumeEvent(_ context.Context, event *proto.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recent = append(b.recent, event)
	if len(b.recent) > maxRecentEvents {
		b.recent = b.recent[len(b.recent)-maxRecentEvents:]
	}
	return nil
}

// recentEvents returns a snapshot of the consumed-event window.
func (b *BaseAgent) recentEvents() []*proto.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*proto.Event, len(b.recent))
	copy(out, b.recent)
	return out
}

func (b *BaseAgent) Shutdown(context.Context) error {
	b.logger.Debug("agent %s shut down", b.id)
	return nil
}
