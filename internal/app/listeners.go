package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"idylle/internal/config"
)

var (
	// ErrListenerMismatch is returned when a listener's kind does not match
	// the subject its stage provides
	ErrListenerMismatch = errors.New("listener does not match stage")

	// ErrRegistryClosed is returned when registering after Run has begun
	ErrRegistryClosed = errors.New("listener registry closed")

	// ErrNilListener is returned when registering a nil listener
	ErrNilListener = errors.New("nil listener")
)

// Listener is deferred work bound to one stage. The concrete type fixes
// the subject it receives: DependenciesListener, TransportListener,
// SettingsListener or StateListener.
type Listener interface {
	subject() subject
	isNil() bool
}

// DependenciesListener runs at init.dependencies. A non-nil result replaces
// the built-in collaborators field by field.
type DependenciesListener func(ctx context.Context) (*Dependencies, error)

// TransportListener runs at init.transport. A non-nil result replaces the
// default HTTP transport.
type TransportListener func(ctx context.Context) (Transport, error)

// SettingsListener runs at init.settings with the live settings record
type SettingsListener func(ctx context.Context, s *config.Settings) error

// StateListener runs at every other stage with the whole application
type StateListener func(ctx context.Context, a *Application) error

func (DependenciesListener) subject() subject { return subjectDependencies }
func (TransportListener) subject() subject    { return subjectTransport }
func (SettingsListener) subject() subject     { return subjectSettings }
func (StateListener) subject() subject        { return subjectState }

func (l DependenciesListener) isNil() bool { return l == nil }
func (l TransportListener) isNil() bool    { return l == nil }
func (l SettingsListener) isNil() bool     { return l == nil }
func (l StateListener) isNil() bool        { return l == nil }

// Listeners holds, per stage, the listeners in registration order. It is
// boot scoped: closed when Run begins and cleared when boot completes.
type Listeners struct {
	mu      sync.Mutex
	byStage map[Stage][]Listener
	closed  bool
}

// NewListeners creates an empty registry
func NewListeners() *Listeners {
	return &Listeners{byStage: make(map[Stage][]Listener)}
}

// Register appends listener to stage and returns the registry for chaining
func (l *Listeners) Register(stage Stage, listener Listener) (*Listeners, error) {
	if !stage.Registrable() {
		return l, fmt.Errorf("%w: %s", ErrUnknownStage, stage)
	}
	if listener == nil || listener.isNil() {
		return l, fmt.Errorf("%w for %s", ErrNilListener, stage)
	}
	if listener.subject() != stage.subject() {
		return l, fmt.Errorf("%w: %T for %s", ErrListenerMismatch, listener, stage)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return l, ErrRegistryClosed
	}
	l.byStage[stage] = append(l.byStage[stage], listener)
	return l, nil
}

// For returns a copy of the listeners registered for stage
func (l *Listeners) For(stage Stage) []Listener {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Listener(nil), l.byStage[stage]...)
}

// Len returns the total number of registered listeners
func (l *Listeners) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ls := range l.byStage {
		n += len(ls)
	}
	return n
}

// Clear drops every listener. Safe to call any number of times.
func (l *Listeners) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byStage = make(map[Stage][]Listener)
}

func (l *Listeners) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
}
