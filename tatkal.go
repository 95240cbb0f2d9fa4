package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var ErrTatkalWindowPassed = errors.New("tatkal booking window has passed")

// TatkalScheduler holds a run back until the Tatkal window of a draft opens.
type TatkalScheduler struct {
	config        TatkalConfig
	timeSync      *TimeSync
	logger        *zap.Logger
	progressEvery time.Duration
}

func NewTatkalScheduler(config TatkalConfig, timeSync *TimeSync, logger *zap.Logger) *TatkalScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TatkalScheduler{
		config:        config,
		timeSync:      timeSync,
		logger:        logger.Named("tatkal"),
		progressEvery: 30 * time.Second,
	}
}

// Opening returns the Tatkal opening time for the draft.
func (s *TatkalScheduler) Opening(draft *BookingDraft) (time.Time, error) {
	date, err := draft.TravelDate()
	if err != nil {
		return time.Time{}, err
	}
	return TatkalOpening(date, draft.TravelClass, s.config)
}

// WaitForWindow blocks until the draft's Tatkal window opens. An open
// window returns at once; one that opened more than GraceMinutes ago is
// ErrTatkalWindowPassed.
func (s *TatkalScheduler) WaitForWindow(ctx context.Context, draft *BookingDraft) error {
	opening, err := s.Opening(draft)
	if err != nil {
		return err
	}

	if err := s.timeSync.Sync(ctx); err != nil {
		s.logger.Warn("time sync failed, using the local clock", zap.Error(err))
	} else {
		s.reportOffset()
	}

	now := s.timeSync.Now()
	grace := time.Duration(s.config.GraceMinutes) * time.Minute
	if now.After(opening.Add(grace)) {
		return fmt.Errorf("%w: opened %s", ErrTatkalWindowPassed, opening.Format(time.RFC3339))
	}
	if !now.Before(opening) {
		fmt.Println(T("tatkal_window_open"))
		return nil
	}

	fmt.Printf(T("tatkal_waiting_for_opening")+"\n", opening.Sub(now).Round(time.Second))
	fmt.Printf(T("tatkal_opening_time")+"\n", opening.Format("2006-01-02 15:04:05 MST"), opening.Local().Format("15:04:05 MST"))
	return s.WaitUntil(ctx, opening)
}

func (s *TatkalScheduler) reportOffset() {
	offset := s.timeSync.GetOffset()
	if offset > 0 {
		fmt.Printf(T("tatkal_time_synced_ahead")+"\n", offset)
	} else if offset < 0 {
		fmt.Printf(T("tatkal_time_synced_behind")+"\n", -offset)
	} else {
		fmt.Println(T("tatkal_time_synced_perfect"))
	}
}

// WaitUntil sleeps until target on the synchronized clock, printing
// progress and resyncing hourly.
func (s *TatkalScheduler) WaitUntil(ctx context.Context, target time.Time) error {
	ticker := time.NewTicker(s.progressEvery)
	defer ticker.Stop()

	for {
		remaining := target.Sub(s.timeSync.Now())
		if remaining <= 0 {
			return nil
		}

		if remaining < s.progressEvery {
			return sleepCtx(ctx, remaining)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if s.timeSync.ShouldResync() {
				fmt.Println(T("tatkal_resyncing_time"))
				if err := s.timeSync.Sync(ctx); err != nil {
					fmt.Printf(T("tatkal_resync_failed")+"\n", err)
				}
			}

			if remaining := target.Sub(s.timeSync.Now()); remaining > 0 {
				fmt.Printf(T("tatkal_waiting_update")+"\n", remaining.Round(time.Second))
			}
		}
	}
}
