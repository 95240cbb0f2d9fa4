package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// errSkipped marks a step that had nothing to do for this draft.
var errSkipped = errors.New("skipped")

// StepError ties a failure to the step that produced it.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// RunContext is the per-run state handed to every step. It is written once
// when the draft is resolved and read-only afterwards.
type RunContext struct {
	Identifier string
	Draft      *BookingDraft
	Passengers []Passenger
	Classes    []string
	DryRun     bool
}

type step struct {
	name string
	run  func(ctx context.Context, rc *RunContext) error
}

type StepResult struct {
	Name    string
	Err     error
	Skipped bool
	Elapsed time.Duration
}

type Report struct {
	Identifier  string
	Draft       *BookingDraft
	Steps       []StepResult
	LoginFilled bool
	// LoginErr is set when the login form appeared but filling it failed.
	LoginErr error
}

// Failed returns the steps that neither succeeded nor were skipped.
func (r *Report) Failed() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if s.Err != nil && !s.Skipped {
			out = append(out, s)
		}
	}
	return out
}

func (r *Report) Step(name string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepResult{}, false
}

// Step names, in run order.
const (
	StepResolve     = "resolve-draft"
	StepClass       = "set-class"
	StepQuota       = "set-quota"
	StepDate        = "set-date"
	StepOrigin      = "set-origin"
	StepDestination = "set-destination"
	StepArmLogin    = "arm-login-watcher"
	StepSearch      = "submit-search"
	StepTrain       = "select-train-and-class"
	StepPassengers  = "autofill-passengers"
	StepPayment     = "select-payment-method"
	StepContinue    = "continue"
)

// Sequencer drives the host booking form from a stored draft. Steps run in
// a fixed order; a failed step is logged and the run moves on, since the
// worst outcome is a form the user finishes by hand.
type Sequencer struct {
	doc     Document
	drafts  DraftSource
	config  *Config
	sel     SelectorMap
	timing  Timing
	wait    *Waiter
	driver  *Driver
	logger  *zap.Logger
	watcher *LoginWatcher
}

func NewSequencer(doc Document, drafts DraftSource, config *Config, logger *zap.Logger) (*Sequencer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sel, err := config.ActiveSelectors()
	if err != nil {
		return nil, err
	}
	timing := config.Timing.Durations()
	wait := NewWaiter(doc, timing.Poll)

	return &Sequencer{
		doc:    doc,
		drafts: drafts,
		config: config,
		sel:    sel,
		timing: timing,
		wait:   wait,
		driver: NewDriver(doc, wait, sel, timing, logger),
		logger: logger.Named("sequencer"),
	}, nil
}

// Run resolves the draft named in the page URL and drives every step. A
// page without the identifier parameter is a no-op. The returned error is
// only set for store failures and cancellation.
func (s *Sequencer) Run(ctx context.Context) (*Report, error) {
	report := &Report{}
	s.watcher = nil

	pageURL, err := s.doc.URL(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read page URL: %w", err)
	}
	id := IdentifierFromURL(pageURL, s.config.IdentifierParam)
	if id == "" {
		s.logger.Debug("no booking identifier in URL", zap.String("url", pageURL))
		return report, nil
	}
	report.Identifier = id

	start := time.Now()
	draft, err := s.drafts.Find(id)
	if err != nil {
		report.Steps = append(report.Steps, StepResult{Name: StepResolve, Err: err, Elapsed: time.Since(start)})
		if errors.Is(err, ErrDraftNotFound) {
			s.logger.Warn("booking not found in store", zap.String("id", id))
			return report, nil
		}
		return report, err
	}
	report.Draft = draft
	report.Steps = append(report.Steps, StepResult{Name: StepResolve, Elapsed: time.Since(start)})

	rc := &RunContext{
		Identifier: id,
		Draft:      draft,
		Passengers: draft.PassengerList(),
		Classes:    ClassLabels(draft.TravelClass, s.config.ClassLabels),
		DryRun:     s.config.DryRun,
	}
	s.logger.Info("using booking",
		zap.String("id", id),
		zap.Bool("grouped", draft.Grouped()),
		zap.String("route", draft.Origin+" -> "+draft.Destination),
		zap.String("date", draft.Date),
		zap.Int("passengers", len(rc.Passengers)))

	watchCtx, disarm := context.WithCancel(ctx)
	defer disarm()

	for _, st := range s.steps(watchCtx) {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Steps = append(report.Steps, s.runStep(ctx, st, rc))
		if err := sleepCtx(ctx, s.timing.Step); err != nil {
			return report, err
		}
	}

	if s.watcher != nil {
		select {
		case <-s.watcher.Done():
		case <-time.After(s.timing.LoginGrace):
			s.logger.Debug("login form not seen before grace period ended")
		case <-ctx.Done():
		}
		disarm()
		<-s.watcher.Done()
		report.LoginFilled, report.LoginErr = s.watcher.Filled()
	}

	if failed := report.Failed(); len(failed) > 0 {
		s.logger.Warn("run finished with incomplete steps; finish the form manually", zap.Int("failed", len(failed)))
	} else {
		s.logger.Info("run finished")
	}
	return report, ctx.Err()
}

func (s *Sequencer) steps(watchCtx context.Context) []step {
	return []step{
		{StepClass, s.setClass},
		{StepQuota, s.setQuota},
		{StepDate, s.setDate},
		{StepOrigin, s.setOrigin},
		{StepDestination, s.setDestination},
		{StepArmLogin, func(_ context.Context, rc *RunContext) error { return s.armLogin(watchCtx, rc) }},
		{StepSearch, s.submitSearch},
		{StepTrain, s.selectTrainAndClass},
		{StepPassengers, s.autofillPassengers},
		{StepPayment, s.selectPaymentMethod},
		{StepContinue, s.continueBooking},
	}
}

func (s *Sequencer) runStep(ctx context.Context, st step, rc *RunContext) StepResult {
	start := time.Now()
	err := st.run(ctx, rc)
	res := StepResult{Name: st.name, Elapsed: time.Since(start)}

	switch {
	case err == nil:
		s.logger.Debug("step done", zap.String("step", st.name), zap.Duration("elapsed", res.Elapsed))
	case errors.Is(err, errSkipped):
		res.Skipped = true
		res.Err = err
		s.logger.Debug("step skipped", zap.String("step", st.name), zap.String("reason", err.Error()))
	default:
		res.Err = &StepError{Step: st.name, Err: err}
		s.logger.Warn("step failed", zap.String("step", st.name), zap.Error(err))
	}
	return res
}

// IdentifierFromURL returns the booking identifier carried in the query
// string, or "" when absent.
func IdentifierFromURL(rawURL, param string) string {
	if param == "" {
		param = "bookingId"
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(u.Query().Get(param))
}

// BookingURL embeds the identifier into the host URL.
func BookingURL(base, param, id string) (string, error) {
	if param == "" {
		param = "bookingId"
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid booking URL %q: %w", base, err)
	}
	q := u.Query()
	q.Set(param, id)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
