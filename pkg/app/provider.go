package app

import (
	"sync"

	"github.com/netra-ai/netra/pkg/config"
	"github.com/netra-ai/netra/pkg/execution"
)

// BuildFunc constructs one resource instance. Factory-mode providers call it
// per request with the live execution context; singleton-mode providers call
// it once with a nil context.
type BuildFunc[T any] func(execCtx *execution.UserExecutionContext) (T, error)

// ResourceProvider hands out a resource in either singleton or per-request
// factory mode. The two modes coexist during the migration away from shared
// singletons; routes are switched over one at a time via configuration.
type ResourceProvider[T any] interface {
	Mode() config.ProviderMode
	Get(execCtx *execution.UserExecutionContext) (T, error)
}

// SingletonProvider builds the resource once and shares it across all
// requests. The legacy mode.
type SingletonProvider[T any] struct {
	once  sync.Once
	build BuildFunc[T]
	value T
	err   error
}

// NewSingletonProvider wraps build in a once-only provider.
func NewSingletonProvider[T any](build BuildFunc[T]) *SingletonProvider[T] {
	return &SingletonProvider[T]{build: build}
}

func (p *SingletonProvider[T]) Mode() config.ProviderMode {
	return config.ProviderModeSingleton
}

func (p *SingletonProvider[T]) Get(_ *execution.UserExecutionContext) (T, error) {
	p.once.Do(func() {
		p.value, p.err = p.build(nil)
	})
	return p.value, p.err
}

// FactoryProvider builds a fresh resource for every request. The target mode:
// nothing built here can leak between users.
type FactoryProvider[T any] struct {
	build BuildFunc[T]
}

// NewFactoryProvider wraps build in a per-request provider.
func NewFactoryProvider[T any](build BuildFunc[T]) *FactoryProvider[T] {
	return &FactoryProvider[T]{build: build}
}

func (p *FactoryProvider[T]) Mode() config.ProviderMode {
	return config.ProviderModeFactory
}

func (p *FactoryProvider[T]) Get(execCtx *execution.UserExecutionContext) (T, error) {
	return p.build(execCtx)
}
