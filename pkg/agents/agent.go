// Package agents defines the capability contract every roster participant
// implements and the reference implementations for each role category. The
// roster is built from the static role registry at boot; there is no dynamic
// registration and no reflection, just a closed set of constructors.
package agents

import (
	"context"
	"time"

	"tradecore/pkg/config"
	"tradecore/pkg/proto"
	"tradecore/pkg/router"
)

// Quote is one symbol's market snapshot for a tick.
type Quote struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	PrevClose float64 `json:"prev_close"`
	Volume    float64 `json:"volume"`
	BidVolume float64 `json:"bid_volume"`
	AskVolume float64 `json:"ask_volume"`
}

// TickContext is everything an agent gets when polled for a signal.
type TickContext struct {
	TickID string
	Seq    int64
	Time   time.Time
	Quotes map[string]Quote
}

// Agent is the capability contract. ProduceSignal may return (nil, nil) to
// abstain for the tick; ConsumeEvent must be cheap and non-blocking since it
// runs on the fan-out path.
type Agent interface {
	GetID() string
	Category() proto.RoleCategory
	Subscriptions() []proto.RoleCategory

	ProduceSignal(ctx context.Context, tick TickContext) (*proto.Signal, error)
	ConsumeEvent(ctx context.Context, event *proto.Event) error

	Shutdown(ctx context.Context) error
}

// MemoryReader is the retrieval surface agents use to consult long-term
// memory. The input router implements it.
type MemoryReader interface {
	Retrieve(ctx context.Context, q router.Query) ([]router.RankedRecord, error)
}

// EventEmitter accepts events an agent produces outside the polling cycle
// (execution outcomes, curated lessons). The output router implements it.
type EventEmitter interface {
	Ingest(ctx context.Context, event *proto.Event) (*router.IngestResult, error)
}

// QuoteProvider is implemented by the market data agent; the coordinator uses
// it to assemble each tick's snapshot.
type QuoteProvider interface {
	Quotes(seq int64) map[string]Quote
}

// Deps carries the shared wiring injected into every constructor. Individual
// agents use the subset they need; nil fields simply disable the capability.
type Deps struct {
	Memory  MemoryReader
	Emitter EventEmitter
	Gates   *config.RiskGates
	Symbols []string
}
