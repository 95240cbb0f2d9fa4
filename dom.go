package main

import "context"

// Event is one synthetic DOM event. Key is only set for keyboard events.
type Event struct {
	Type string
	Key  string
}

func events(types ...string) []Event {
	out := make([]Event, len(types))
	for i, t := range types {
		out[i] = Event{Type: t}
	}
	return out
}

// Element is a node of the host page. Find returns a nil Element and a nil
// error when nothing matches; errors are reserved for backend failures.
type Element interface {
	Find(ctx context.Context, selector string) (Element, error)
	FindAll(ctx context.Context, selector string) ([]Element, error)
	Text(ctx context.Context) (string, error)
	Value(ctx context.Context) (string, error)
	SetValue(ctx context.Context, value string) error
	Attr(ctx context.Context, name string) (string, bool, error)
	Opacity(ctx context.Context) (string, error)
	Dispatch(ctx context.Context, evs ...Event) error
	Click(ctx context.Context) error
	Focus(ctx context.Context) error
	Blur(ctx context.Context) error
	SetSelected(ctx context.Context) error
	ScrollIntoView(ctx context.Context) error
}

// Document is the host page as seen by the automation core.
type Document interface {
	URL(ctx context.Context) (string, error)
	Find(ctx context.Context, selector string) (Element, error)
	FindAll(ctx context.Context, selector string) ([]Element, error)
}

// MutationSource is implemented by documents that can report child-list
// changes anywhere under the body. One value is delivered per mutation
// batch, coalesced when the reader lags. The channel closes when ctx ends.
type MutationSource interface {
	ObserveMutations(ctx context.Context) (<-chan struct{}, error)
}
