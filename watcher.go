package main

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// LoginWatcher fills the site login modal once it shows up. The host
// injects the modal at a time of its own choosing, so the watcher reacts to
// DOM mutations instead of the sequencer's step order. It fires at most once.
type LoginWatcher struct {
	doc    Document
	driver *Driver
	sel    SelectorMap
	timing Timing
	creds  Credentials
	logger *zap.Logger

	once   sync.Once
	done   chan struct{}
	mu     sync.Mutex
	filled bool
	err    error
}

func NewLoginWatcher(doc Document, driver *Driver, sel SelectorMap, timing Timing, creds Credentials, logger *zap.Logger) *LoginWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoginWatcher{
		doc:    doc,
		driver: driver,
		sel:    sel,
		timing: timing,
		creds:  creds,
		logger: logger.Named("login"),
		done:   make(chan struct{}),
	}
}

// Arm starts watching in the background. It returns immediately; Done is
// closed when the watcher has filled the form or ctx ended.
func (w *LoginWatcher) Arm(ctx context.Context) {
	w.once.Do(func() {
		go w.run(ctx)
	})
}

func (w *LoginWatcher) Done() <-chan struct{} {
	return w.done
}

// Filled reports whether credentials were written, and any error doing so.
func (w *LoginWatcher) Filled() (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.filled, w.err
}

func (w *LoginWatcher) run(ctx context.Context) {
	defer close(w.done)

	// Cancelling watchCtx disconnects the observer.
	watchCtx, disconnect := context.WithCancel(ctx)
	defer disconnect()

	src, ok := w.doc.(MutationSource)
	if !ok {
		w.poll(watchCtx)
		return
	}
	feed, err := src.ObserveMutations(watchCtx)
	if err != nil {
		w.logger.Warn("mutation feed unavailable, polling instead", zap.Error(err))
		w.poll(watchCtx)
		return
	}
	w.logger.Debug("armed")

	if w.present(watchCtx) {
		w.fill(watchCtx)
		return
	}
	for {
		select {
		case <-watchCtx.Done():
			return
		case _, open := <-feed:
			if !open {
				return
			}
			if w.present(watchCtx) {
				disconnect()
				w.fill(ctx)
				return
			}
		}
	}
}

// poll is the fixed-try entry point for documents without a mutation feed.
func (w *LoginWatcher) poll(ctx context.Context) {
	tries := w.timing.LoginFallbackTries
	if tries <= 0 {
		tries = 1
	}
	for i := 0; i < tries; i++ {
		if w.present(ctx) {
			w.fill(ctx)
			return
		}
		if err := sleepCtx(ctx, w.timing.Poll); err != nil {
			return
		}
	}
	w.logger.Warn("login form never appeared", zap.Int("tries", tries))
}

func (w *LoginWatcher) present(ctx context.Context) bool {
	user, err := w.doc.Find(ctx, w.sel.UsernameInput)
	if err != nil || user == nil {
		return false
	}
	pass, err := w.doc.Find(ctx, w.sel.PasswordInput)
	return err == nil && pass != nil
}

func (w *LoginWatcher) fill(ctx context.Context) {
	err := w.writeCredentials(ctx)

	w.mu.Lock()
	w.filled = err == nil
	w.err = err
	w.mu.Unlock()

	if err != nil {
		w.logger.Warn("credential autofill failed", zap.Error(err))
		return
	}
	w.logger.Info("credentials filled", zap.String("username", w.creds.Username))
}

func (w *LoginWatcher) writeCredentials(ctx context.Context) error {
	user, err := w.doc.Find(ctx, w.sel.UsernameInput)
	if err != nil {
		return err
	}
	pass, err := w.doc.Find(ctx, w.sel.PasswordInput)
	if err != nil {
		return err
	}
	if user == nil || pass == nil {
		return ErrNotFound
	}
	if err := w.driver.SetValue(ctx, user, w.creds.Username); err != nil {
		return err
	}
	return w.driver.SetValue(ctx, pass, w.creds.Password)
}
