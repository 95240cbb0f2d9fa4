package main

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"
)

var (
	errChromeRunning   = errors.New("chrome is already running with this profile")
	errBrowserDownload = errors.New("browser download was denied")
)

// Automation owns the browser that hosts the booking tab.
type Automation struct {
	config     *Config
	logger     *zap.Logger
	browser    *rod.Browser
	page       *rod.Page
	launcher   *launcher.Launcher
	stopChan   chan bool
	retryDelay time.Duration

	// onBrowserClosed runs once when the user closes the browser window.
	onBrowserClosed func()
}

func NewAutomation(config *Config, logger *zap.Logger) *Automation {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Automation{
		config:     config,
		logger:     logger.Named("browser"),
		stopChan:   make(chan bool, 1),
		retryDelay: 2 * time.Second,
	}
}

func (a *Automation) Close() {
	select {
	case a.stopChan <- true:
	default:
	}

	fmt.Println(T("cleaning_up"))

	if a.page != nil {
		a.page.Close()
	}

	if a.browser != nil {
		a.browser.Close()
	}

	if a.launcher != nil {
		a.launcher.Cleanup()
	}

	fmt.Println(T("browser_destroyed"))
}

func (a *Automation) isBrowserAlive() bool {
	if a.browser == nil {
		return false
	}

	if _, err := a.browser.Version(); err != nil {
		a.logger.Debug("browser version check failed", zap.Error(err))
		return false
	}

	if a.page != nil {
		if _, err := a.page.Info(); err != nil {
			a.logger.Debug("page info check failed", zap.Error(err))
			return false
		}
	}

	return true
}

func (a *Automation) watchBrowser() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopChan:
			return
		case <-ticker.C:
			if !a.isBrowserAlive() {
				fmt.Println(T("browser_closed_by_user"))
				if a.onBrowserClosed != nil {
					a.onBrowserClosed()
				}
				return
			}
		}
	}
}

func (a *Automation) setupBrowser() error {
	fmt.Println(T("browser_launching"))

	// Leakless deadlocks on Windows, see go-rod/rod#853.
	useLeakless := runtime.GOOS != "windows"

	chromePath, chromeExists := launcher.LookPath()

	a.launcher = launcher.New().
		Leakless(useLeakless).
		Headless(a.config.Headless)

	// Must be set before Bin.
	if a.config.BrowserProfilePath != "" {
		a.launcher = a.launcher.UserDataDir(a.config.BrowserProfilePath)
		a.logger.Debug("browser profile set", zap.String("path", a.config.BrowserProfilePath))
	}

	if chromeExists {
		a.launcher = a.launcher.Bin(chromePath)
		fmt.Println(T("browser_using_system_chrome"))
		a.logger.Debug("chrome binary", zap.String("path", chromePath))
	} else {
		fmt.Println(T("browser_chrome_not_found"))
	}

	controlURL, err := a.launcher.Launch()
	if err != nil {
		switch classifyLaunchError(err) {
		case errChromeRunning:
			fmt.Println(T("error_chrome_already_running_header"))
			fmt.Println(T("error_chrome_close_all"))
			return errChromeRunning
		case errBrowserDownload:
			fmt.Println(T("error_browser_download_permission"))
			fmt.Println(T("error_browser_download_alternative"))
			return fmt.Errorf("%w: %v", errBrowserDownload, err)
		}
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	a.browser = rod.New().ControlURL(controlURL)
	if err := a.browser.Connect(); err != nil {
		return fmt.Errorf("failed to connect to browser: %w", err)
	}

	go a.watchBrowser()

	fmt.Println(T("browser_launched"))
	return nil
}

// classifyLaunchError maps launcher output to the failures users can fix.
func classifyLaunchError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "Opening in existing browser session"),
		strings.Contains(msg, "ProcessSingleton"),
		strings.Contains(msg, "SingletonLock"):
		return errChromeRunning
	case strings.Contains(msg, "Access is denied"),
		strings.Contains(msg, "permission denied"):
		return errBrowserDownload
	}
	return nil
}

// OpenBooking opens the host site with the draft identifier in the URL and
// returns the tab once it has loaded.
func (a *Automation) OpenBooking(ctx context.Context, id string) (*rodDocument, error) {
	target, err := BookingURL(a.config.BookingURL, a.config.IdentifierParam, id)
	if err != nil {
		return nil, err
	}

	if a.page == nil {
		a.page, err = stealth.Page(a.browser)
		if err != nil {
			return nil, fmt.Errorf("failed to create stealth page: %w", err)
		}
		userAgent := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
		if err := a.page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: userAgent}); err != nil {
			a.logger.Debug("failed to set user agent", zap.Error(err))
		}
	}

	fmt.Printf(T("opening_booking")+"\n", target)
	if err := a.navigateWithRetry(ctx, target); err != nil {
		return nil, err
	}
	fmt.Println(T("booking_page_loaded"))

	return newRodDocument(a.page, a.logger), nil
}

// navigateWithRetry retries transient navigation and HTTP failures up to
// NavigationRetries times.
func (a *Automation) navigateWithRetry(ctx context.Context, target string) error {
	attempts := a.config.NavigationRetries
	if attempts <= 0 {
		attempts = 1
	}
	timeout := time.Duration(a.config.PageLoadTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = a.navigateOnce(ctx, target, timeout)
		if lastErr == nil {
			if attempt > 1 {
				a.logger.Info("booking page available", zap.Int("attempts", attempt))
			}
			return nil
		}
		a.logger.Warn("navigation failed", zap.Int("attempt", attempt), zap.Error(lastErr))
		if attempt == attempts {
			break
		}
		if err := sleepCtx(ctx, a.retryDelay); err != nil {
			return err
		}
	}
	return fmt.Errorf("failed to open %s after %d attempts: %w", target, attempts, lastErr)
}

func (a *Automation) navigateOnce(ctx context.Context, target string, timeout time.Duration) error {
	page := a.page.Context(ctx).Timeout(timeout)
	if err := page.Navigate(target); err != nil {
		return fmt.Errorf("navigation error: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("page load error: %w", err)
	}

	res, err := page.Eval(`() => {
		return window.performance?.getEntriesByType?.('navigation')?.[0]?.responseStatus || 200;
	}`)
	if err != nil {
		return nil
	}
	return statusError(res.Value.Int())
}

func statusError(status int) error {
	if status >= 400 {
		return fmt.Errorf("HTTP %d", status)
	}
	return nil
}
