// Package paramstore implements the versioned ParameterSet store:
// get(consumer), put(ParameterSet), subscribe(consumer, callback). Replacement
// is atomic via copy-on-write: publishers swap an atomic pointer, readers
// capture the pointer at operation entry, so an in-flight computation always
// sees the ParameterSet it started with.
package paramstore

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/atlas-desktop/signal-pipeline/internal/events"
	"github.com/atlas-desktop/signal-pipeline/pkg/perrors"
	"github.com/atlas-desktop/signal-pipeline/pkg/types"
)

// Store is a versioned key-value store for ParameterSets. A single Store
// instance serves every consumer (P1, P3); "per consumer" in the design refers
// to the invariant that each consumer observes exactly one ACTIVE set at a
// time, not to separate storage per consumer.
type Store struct {
	logger *zap.Logger
	bus    *events.Bus

	active atomic.Pointer[types.ParameterSet]
}

// New creates a Store seeded with the default parameter set (version 0).
func New(logger *zap.Logger, bus *events.Bus) *Store {
	s := &Store{logger: logger.Named("paramstore"), bus: bus}
	def := types.DefaultParameters()
	s.active.Store(&def)
	return s
}

// Get returns the currently active ParameterSet. The returned value is a
// snapshot: later Put calls never mutate it.
func (s *Store) Get() types.ParameterSet {
	return *s.active.Load()
}

// Put validates and atomically installs a new ACTIVE ParameterSet, then
// notifies subscribers. If next.Version is not greater than the current
// version, Put assigns current+1 instead, so published versions always
// increase. It returns the version that was installed.
func (s *Store) Put(next types.ParameterSet) (uint64, error) {
	if err := types.ValidateParameterSet(&next); err != nil {
		return 0, perrors.NewValidation("invalid_parameter_set", err)
	}
	current := s.active.Load()
	if next.Version <= current.Version {
		next.Version = current.Version + 1
	}
	s.active.Store(&next)
	s.logger.Info("published new parameter set", zap.Uint64("version", next.Version))
	if s.bus != nil {
		s.bus.Publish(events.TypeParameterSetPublished, next)
	}
	return next.Version, nil
}

// Subscribe registers callback to run whenever a new ParameterSet is
// published. Returns an unsubscribe function.
func (s *Store) Subscribe(callback func(types.ParameterSet)) (unsubscribe func()) {
	if s.bus == nil {
		return func() {}
	}
	return s.bus.Subscribe(events.TypeParameterSetPublished, func(evt events.Event) {
		if ps, ok := evt.Payload.(types.ParameterSet); ok {
			callback(ps)
		}
	})
}

// Rollback republishes a previously captured ParameterSet as the new ACTIVE
// set (bumping its version), backing the operator CLI's "force a
// parameter-set rollback to a named version" boundary operation.
func (s *Store) Rollback(target types.ParameterSet) (uint64, error) {
	return s.Put(target)
}
