package framework

import "context"

// Named is an abstraction for things with a name.
type Named interface {
	Name() string
}

// Runnable defines a generic interface for background runners.
type Runnable interface {
	Run(context.Context) error
}

// RunFunc is the func form of Runnable.
type RunFunc func(context.Context) error

// Run implements Runnable.
func (f RunFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Starter is a Runnable which can also be started and stopped by itself.
type Starter interface {
	Start()
	Shutdown()
}

// RunStarter adapts a Starter to a Runnable which starts it and shuts it
// down when the context is done.
func RunStarter(s Starter) Runnable {
	return RunFunc(func(ctx context.Context) error {
		s.Start()
		<-ctx.Done()
		s.Shutdown()
		return ctx.Err()
	})
}
