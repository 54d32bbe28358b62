package clickmanager

import "context"

// FlushFunc adapts a plain function to the Sink interface, letting callers
// wire the storage façade's FlushClicks (which speaks storage.ClickUpdate,
// not clickmanager.Update) without an import cycle between the two
// packages.
type FlushFunc func(ctx context.Context, updates []Update) error

func (f FlushFunc) FlushClicks(ctx context.Context, updates []Update) error {
	return f(ctx, updates)
}

var _ Sink = FlushFunc(nil)
