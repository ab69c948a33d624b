package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/angelmondragon/brandpulse/internal/jobs"
	"github.com/angelmondragon/brandpulse/pkg/enums"
	pkgerrors "github.com/angelmondragon/brandpulse/pkg/errors"
	"github.com/angelmondragon/brandpulse/pkg/queue"
)

// PayloadHandler receives a decoded, validated payload.
type PayloadHandler func(ctx context.Context, payload jobs.Payload, progress Progress) error

// Router decodes job payloads and dispatches them by kind.
type Router struct {
	registry *jobs.Registry
	mtx      sync.RWMutex
	routes   map[enums.JobKind]PayloadHandler
}

// NewRouter builds a router over registry.
func NewRouter(registry *jobs.Registry) *Router {
	if registry == nil {
		registry = jobs.DefaultRegistry()
	}
	return &Router{registry: registry, routes: make(map[enums.JobKind]PayloadHandler)}
}

// Handle registers fn for kind.
func (r *Router) Handle(kind enums.JobKind, fn PayloadHandler) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.routes[kind] = fn
}

// Kinds lists the registered kinds.
func (r *Router) Kinds() []enums.JobKind {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	kinds := make([]enums.JobKind, 0, len(r.routes))
	for kind := range r.routes {
		kinds = append(kinds, kind)
	}
	return kinds
}

// Process implements Handler. Undecodable payloads and unknown kinds fail
// with validation errors, which the queue treats as terminal.
func (r *Router) Process(ctx context.Context, job *queue.Job, progress Progress) error {
	r.mtx.RLock()
	fn, ok := r.routes[job.Kind]
	r.mtx.RUnlock()
	if !ok {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("no handler for job kind %s", job.Kind))
	}
	payload, err := r.registry.Decode(job.Kind, job.Payload)
	if err != nil {
		return err
	}
	return fn(ctx, payload, progress)
}

// AsHandler exposes the router to a Pool.
func (r *Router) AsHandler() Handler {
	return HandlerFunc(r.Process)
}
