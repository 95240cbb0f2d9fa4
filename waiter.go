package main

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound means a selector never matched within its budget.
	ErrNotFound = errors.New("element not found")
	// ErrNoMatch means candidates were found but none satisfied the match.
	ErrNoMatch = errors.New("no candidate matched")
	// ErrTimeout means a bounded wait ran out.
	ErrTimeout = errors.New("timed out")
)

const defaultPollInterval = 200 * time.Millisecond

// Waiter polls the host document until a condition holds.
type Waiter struct {
	doc      Document
	interval time.Duration
}

func NewWaiter(doc Document, interval time.Duration) *Waiter {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Waiter{doc: doc, interval: interval}
}

// Poll evaluates cond until it reports true, ctx ends, or timeout elapses.
// cond always runs at least once. Backend errors from cond do not stop the
// poll; the last one is attached to the timeout error.
func (w *Waiter) Poll(ctx context.Context, timeout time.Duration, cond func(context.Context) (bool, error)) error {
	deadline := time.Now().Add(timeout)
	var lastErr error

	for {
		ok, err := cond(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			lastErr = err
		} else if ok {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			if lastErr != nil {
				return fmt.Errorf("%w after %v (last error: %v)", ErrTimeout, timeout, lastErr)
			}
			return fmt.Errorf("%w after %v", ErrTimeout, timeout)
		}

		wait := w.interval
		if remaining < wait {
			wait = remaining
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

// Element waits for the first node matching selector.
func (w *Waiter) Element(ctx context.Context, selector string, timeout time.Duration) (Element, error) {
	var found Element
	err := w.Poll(ctx, timeout, func(ctx context.Context) (bool, error) {
		el, err := w.doc.Find(ctx, selector)
		if err != nil {
			return false, err
		}
		found = el
		return el != nil, nil
	})
	if errors.Is(err, ErrTimeout) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, selector)
	}
	return found, err
}

// Visible waits for a node matching selector whose opacity is exactly 1.
// Popup panels exist in the tree before they are shown.
func (w *Waiter) Visible(ctx context.Context, selector string, timeout time.Duration) (Element, error) {
	var found Element
	err := w.Poll(ctx, timeout, func(ctx context.Context) (bool, error) {
		els, err := w.doc.FindAll(ctx, selector)
		if err != nil {
			return false, err
		}
		for _, el := range els {
			opacity, err := el.Opacity(ctx)
			if err != nil {
				return false, err
			}
			if opacity == "1" {
				found = el
				return true, nil
			}
		}
		return false, nil
	})
	if errors.Is(err, ErrTimeout) {
		return nil, fmt.Errorf("%w: visible %s", ErrNotFound, selector)
	}
	return found, err
}

// All waits until at least min nodes match selector and returns them.
func (w *Waiter) All(ctx context.Context, selector string, timeout time.Duration, min int) ([]Element, error) {
	var found []Element
	err := w.Poll(ctx, timeout, func(ctx context.Context) (bool, error) {
		els, err := w.doc.FindAll(ctx, selector)
		if err != nil {
			return false, err
		}
		found = els
		return len(els) >= min, nil
	})
	if errors.Is(err, ErrTimeout) {
		return found, fmt.Errorf("%w: %d of %s (have %d)", ErrNotFound, min, selector, len(found))
	}
	return found, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
