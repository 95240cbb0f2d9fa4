package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TimeSync estimates the local clock's offset from the Date headers of
// reliable HTTP servers.
type TimeSync struct {
	servers []string
	client  *http.Client
	logger  *zap.Logger

	mu           sync.Mutex
	offset       time.Duration
	lastSyncTime time.Time
	synced       bool
}

func NewTimeSync(servers []string, logger *zap.Logger) *TimeSync {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimeSync{
		servers: servers,
		client:  &http.Client{Timeout: 5 * time.Second},
		logger:  logger.Named("timesync"),
	}
}

// Sync averages the offsets of every server that answered.
func (ts *TimeSync) Sync(ctx context.Context) error {
	var totalOffset time.Duration
	successCount := 0

	for _, server := range ts.servers {
		offset, err := ts.getTimeOffset(ctx, server)
		if err != nil {
			ts.logger.Debug("time sync failed", zap.String("server", server), zap.Error(err))
			continue
		}

		totalOffset += offset
		successCount++
		ts.logger.Debug("time offset", zap.String("server", server), zap.Duration("offset", offset))
	}

	if successCount == 0 {
		return fmt.Errorf("failed to sync time with any of %d servers", len(ts.servers))
	}

	ts.mu.Lock()
	ts.offset = totalOffset / time.Duration(successCount)
	ts.lastSyncTime = time.Now()
	ts.synced = true
	offset := ts.offset
	ts.mu.Unlock()

	ts.logger.Debug("time synchronized", zap.Duration("offset", offset), zap.Int("servers", successCount))
	return nil
}

// getTimeOffset makes an HTTP HEAD request and compares its Date header to
// the local clock at the request midpoint.
func (ts *TimeSync) getTimeOffset(ctx context.Context, url string) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, err
	}

	beforeRequest := time.Now()
	resp, err := ts.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	afterRequest := time.Now()

	dateHeader := resp.Header.Get("Date")
	if dateHeader == "" {
		return 0, fmt.Errorf("no Date header in response")
	}

	serverTime, err := http.ParseTime(dateHeader)
	if err != nil {
		return 0, fmt.Errorf("failed to parse Date header: %w", err)
	}

	latency := afterRequest.Sub(beforeRequest) / 2
	localTime := beforeRequest.Add(latency)
	return serverTime.Sub(localTime), nil
}

// Now returns local time corrected by the last known offset.
func (ts *TimeSync) Now() time.Time {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if !ts.synced {
		return time.Now()
	}
	return time.Now().Add(ts.offset)
}

func (ts *TimeSync) IsSynced() bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.synced
}

func (ts *TimeSync) GetOffset() time.Duration {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.offset
}

// ShouldResync reports whether the last sync is more than an hour old.
func (ts *TimeSync) ShouldResync() bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if !ts.synced {
		return true
	}
	return time.Since(ts.lastSyncTime) > 1*time.Hour
}
