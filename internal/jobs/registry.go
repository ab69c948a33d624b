package jobs

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/angelmondragon/brandpulse/pkg/enums"
	pkgerrors "github.com/angelmondragon/brandpulse/pkg/errors"
)

type factory func() Payload

type checker interface {
	Check() error
}

// Registry maps job kinds to payload factories.
type Registry struct {
	mtx       sync.RWMutex
	factories map[enums.JobKind]factory
	validate  *validator.Validate
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[enums.JobKind]factory),
		validate:  validator.New(),
	}
}

// DefaultRegistry knows every payload type the workers handle.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(enums.JobKindOrderCreated, func() Payload { return &OrderCreated{} })
	r.Register(enums.JobKindRefundCreated, func() Payload { return &RefundCreated{} })
	r.Register(enums.JobKindHistoricalSync, func() Payload { return &HistoricalSync{} })
	r.Register(enums.JobKindDailyMetrics, func() Payload { return &DailyMetrics{} })
	return r
}

// Register stores the factory for kind.
func (r *Registry) Register(kind enums.JobKind, fn func() Payload) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.factories[kind] = fn
}

// Decode unmarshals and validates data into the payload registered for kind.
// Decode failures are validation errors so the queue does not retry them.
func (r *Registry) Decode(kind enums.JobKind, data json.RawMessage) (Payload, error) {
	r.mtx.RLock()
	fn, ok := r.factories[kind]
	r.mtx.RUnlock()
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("no payload registered for %s", kind))
	}

	payload := fn()
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("decode %s payload", kind))
	}
	if err := r.Validate(payload); err != nil {
		return nil, err
	}
	return deref(payload), nil
}

// Validate checks struct tags on p.
func (r *Registry) Validate(p Payload) error {
	if err := r.validate.Struct(p); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("invalid %s payload", p.Kind()))
	}
	if c, ok := p.(checker); ok {
		if err := c.Check(); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("invalid %s payload", p.Kind()))
		}
	}
	return nil
}

// Encode returns the kind and JSON body for p.
func Encode(p Payload) (enums.JobKind, json.RawMessage, error) {
	if p == nil {
		return "", nil, pkgerrors.New(pkgerrors.CodeValidation, "payload is required")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, fmt.Sprintf("encode %s payload", p.Kind()))
	}
	return p.Kind(), data, nil
}

// deref hands handlers value types so a type switch matches OrderCreated, not *OrderCreated.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *OrderCreated:
		return *v
	case *RefundCreated:
		return *v
	case *HistoricalSync:
		return *v
	case *DailyMetrics:
		return *v
	default:
		return p
	}
}
