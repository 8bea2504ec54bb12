// Package provider binds heterogeneous external generation services to one
// two-operation contract: Submit and PollStatus. Synchronous providers
// return output from Submit directly; asynchronous ones return an opaque
// handle that the orchestrator polls. Each binding also owns its own
// credits pricing, exposed through Cost so the orchestrator can reserve
// credits before submission.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/irisblue-leo/denexus-sub000/internal/models"
)

// ErrInvalidRequest marks payloads that fail a binding's own validation.
var ErrInvalidRequest = errors.New("invalid provider request")

// State of an asynchronous generation as reported by PollStatus.
type State string

const (
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Output is what a finished generation produced: media URLs hosted by the
// provider, or a text payload (prompt reverse-engineering).
type Output struct {
	AssetURLs []string
	AssetKind string // models.AssetTypeImage or models.AssetTypeVideo; empty for text
	Text      string
}

// SubmitResult carries either an immediate Output (synchronous provider)
// or an external Handle to poll (asynchronous provider), never both.
type SubmitResult struct {
	Handle string
	Output *Output
}

type PollResult struct {
	State  State
	Output *Output
	Reason string // failure reason when State is StateFailed
}

// Adapter is implemented once per provider family.
type Adapter interface {
	JobType() models.JobType

	// Cost validates the payload and returns the credits price. It must not
	// contact the provider.
	Cost(payload json.RawMessage) (int, error)

	Submit(ctx context.Context, payload json.RawMessage) (*SubmitResult, error)
	PollStatus(ctx context.Context, handle string) (*PollResult, error)

	// Poll policy is provider-specific; interval x attempts bounds the
	// wall-clock wait for async completions.
	PollInterval() time.Duration
	MaxPollAttempts() int
}

// Registry maps job types to their adapter.
type Registry struct {
	adapters map[models.JobType]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[models.JobType]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.JobType()] = a
	}
	return &Registry{adapters: m}
}

func (r *Registry) Get(jt models.JobType) (Adapter, bool) {
	a, ok := r.adapters[jt]
	return a, ok
}

func (r *Registry) JobTypes() []models.JobType {
	out := make([]models.JobType, 0, len(r.adapters))
	for jt := range r.adapters {
		out = append(out, jt)
	}
	return out
}
