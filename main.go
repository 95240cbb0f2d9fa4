package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	bookingID := flag.String("booking", "", "Identifier of the saved booking to fill in")
	storePath := flag.String("store", "", "Path to the booking store (overrides config)")
	bookingURL := flag.String("url", "", "Booking page URL (overrides config)")
	site := flag.String("site", "", "Selector variant to use (overrides config)")
	dryRun := flag.Bool("dry-run", false, "Test mode: fill the form but do not press Continue")
	debug := flag.Bool("debug", false, "Enable detailed debug logging")
	headless := flag.Bool("headless", false, "Run the browser without a window")
	list := flag.Bool("list", false, "List saved bookings")
	addFile := flag.String("add", "", "Add the booking stored in a JSON file")
	deleteID := flag.String("delete", "", "Delete a saved booking")
	rehearse := flag.String("rehearse", "", "Replay the booking against a saved HTML page instead of a browser")
	noWait := flag.Bool("no-wait", false, "Do not wait for the Tatkal window")
	startAt := flag.String("start-at", "", "Start time in the Tatkal timezone (e.g., 2025-06-11 10:00) - overrides the computed window")
	flag.Parse()

	if err := InitLocale(); err != nil {
		log.Printf("Warning: Locale initialization failed, using message keys: %v", err)
	}

	checkUserDataDirPermissions()

	config, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *storePath != "" {
		config.StorePath = *storePath
	}
	if *bookingURL != "" {
		config.BookingURL = *bookingURL
	}
	if *site != "" {
		config.Site = *site
	}
	if *dryRun {
		config.DryRun = true
	}
	if *debug {
		config.DebugMode = true
	}
	if *headless {
		config.Headless = true
	}

	logger, err := newLogger(config.DebugMode, config.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	store := NewStore(config.StorePath)

	switch {
	case *list:
		drafts, err := store.Load()
		if err != nil {
			log.Fatalf("Failed to read bookings: %v", err)
		}
		printDrafts(os.Stdout, drafts)
		return

	case *addFile != "":
		draft, err := readDraftFile(*addFile)
		if err != nil {
			log.Fatalf("Failed to read booking: %v", err)
		}
		saved, err := store.Add(draft)
		if err != nil {
			log.Fatalf("Failed to save booking: %v", err)
		}
		fmt.Printf(T("booking_saved")+"\n", saved.Identifier())
		return

	case *deleteID != "":
		if err := store.Delete(*deleteID); err != nil {
			log.Fatalf("Failed to delete booking: %v", err)
		}
		fmt.Printf(T("booking_deleted")+"\n", *deleteID)
		return
	}

	if *bookingID == "" {
		fmt.Println(T("no_booking_selected"))
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	printBanner(config, *bookingID)

	if *rehearse != "" {
		config.DryRun = true
		report, err := runRehearsal(ctx, config, store, *rehearse, *bookingID, logger)
		if err != nil {
			log.Fatalf("Rehearsal failed: %v", err)
		}
		printReport(os.Stdout, report)
		return
	}

	draft, err := store.Find(*bookingID)
	if err != nil {
		log.Fatalf("Failed to load booking: %v", err)
	}

	if err := waitForStart(ctx, config, draft, *noWait, *startAt, logger); err != nil {
		log.Fatalf("Failed to wait for booking window: %v", err)
	}

	automation := NewAutomation(config, logger)
	defer automation.Close()
	automation.onBrowserClosed = stop

	if err := automation.setupBrowser(); err != nil {
		log.Fatalf("Failed to setup browser: %v", err)
	}

	doc, err := automation.OpenBooking(ctx, *bookingID)
	if err != nil {
		log.Fatalf("Failed to open booking page: %v", err)
	}

	sequencer, err := NewSequencer(doc, store, config, logger)
	if err != nil {
		log.Fatalf("Failed to prepare autofill: %v", err)
	}

	report, err := sequencer.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("autofill stopped", zap.Error(err))
	}
	if report != nil {
		printReport(os.Stdout, report)
	}

	if config.KeepBrowserOpen && ctx.Err() == nil {
		fmt.Println(T("keeping_browser_open"))
		<-ctx.Done()
	}
}

func printBanner(config *Config, id string) {
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║                 Train Booking Autofill                    ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf(T("banner_booking")+"\n", id)
	fmt.Printf(T("banner_site")+"\n", config.BookingURL)
	fmt.Printf(T("banner_profile")+"\n", config.BrowserProfilePath)

	if config.Site != "" {
		fmt.Printf(T("banner_site_variant")+"\n", config.Site)
	}
	if config.DryRun {
		fmt.Println(T("dry_run_mode"))
	}
	if config.DebugMode {
		fmt.Println(T("debug_mode"))
	}
	fmt.Println()
}

// waitForStart holds Tatkal drafts until their window opens. An explicit
// start time wins over the computed window.
func waitForStart(ctx context.Context, config *Config, draft *BookingDraft, noWait bool, startAt string, logger *zap.Logger) error {
	if noWait || (!draft.AutoTatkal && startAt == "") {
		return nil
	}

	scheduler := NewTatkalScheduler(config.Tatkal, NewTimeSync(config.Tatkal.TimeServers, logger), logger)

	if startAt != "" {
		loc, err := time.LoadLocation(config.Tatkal.Timezone)
		if err != nil {
			return err
		}
		target, err := ParseStartTime(startAt, loc)
		if err != nil {
			return err
		}
		fmt.Printf(T("tatkal_opening_time")+"\n", target.Format("2006-01-02 15:04:05 MST"), target.Local().Format("15:04:05 MST"))
		return scheduler.WaitUntil(ctx, target)
	}

	fmt.Println(T("tatkal_mode"))
	return scheduler.WaitForWindow(ctx, draft)
}

func runRehearsal(ctx context.Context, config *Config, store DraftSource, pagePath, id string, logger *zap.Logger) (*Report, error) {
	f, err := os.Open(pagePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pageURL, err := BookingURL(config.BookingURL, config.IdentifierParam, id)
	if err != nil {
		return nil, err
	}

	doc, err := ParseHTMLDocument(pageURL, f, logger)
	if err != nil {
		return nil, err
	}

	sequencer, err := NewSequencer(doc, store, config, logger)
	if err != nil {
		return nil, err
	}

	fmt.Printf(T("rehearsal_started")+"\n", pagePath)
	report, err := sequencer.Run(ctx)
	if err != nil {
		return report, err
	}
	fmt.Printf(T("rehearsal_events")+"\n", len(doc.Events()))
	return report, nil
}

func readDraftFile(path string) (BookingDraft, error) {
	var draft BookingDraft
	data, err := os.ReadFile(path)
	if err != nil {
		return draft, err
	}
	if err := json.Unmarshal(data, &draft); err != nil {
		return draft, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return draft, nil
}

func printDrafts(w io.Writer, drafts []BookingDraft) {
	if len(drafts) == 0 {
		fmt.Fprintln(w, T("no_bookings"))
		return
	}
	for _, d := range drafts {
		var names []string
		for _, p := range d.PassengerList() {
			names = append(names, p.Name)
		}
		line := fmt.Sprintf("%s  %s -> %s  %s  %s/%s  %s",
			d.Identifier(), d.Origin, d.Destination, d.Date, d.TravelClass, d.Quota, strings.Join(names, ", "))
		if d.TrainNumber != "" {
			line += "  #" + d.TrainNumber
		}
		if d.AutoTatkal {
			line += "  [tatkal]"
		}
		fmt.Fprintln(w, line)
	}
}

func printReport(w io.Writer, report *Report) {
	if report.Identifier == "" {
		fmt.Fprintln(w, T("report_no_identifier"))
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, T("report_header")+"\n", report.Identifier)
	for _, st := range report.Steps {
		switch {
		case st.Err == nil:
			fmt.Fprintf(w, "  ✓ %s\n", st.Name)
		case st.Skipped:
			fmt.Fprintf(w, "  - %s (%v)\n", st.Name, st.Err)
		default:
			fmt.Fprintf(w, "  ✗ %s: %v\n", st.Name, st.Err)
		}
	}
	if report.LoginFilled {
		fmt.Fprintln(w, T("report_login_filled"))
	} else if report.LoginErr != nil {
		fmt.Fprintf(w, T("report_login_failed")+"\n", report.LoginErr)
	}
	if failed := report.Failed(); len(failed) > 0 {
		fmt.Fprintf(w, T("report_finish_manually")+"\n", len(failed))
	} else {
		fmt.Fprintln(w, T("report_complete"))
	}
}

// Store init error for later display (after locale is loaded)
var initUserDataDirError error

func init() {
	userDataDir := getUserDataDir()
	if err := os.MkdirAll(userDataDir, 0755); err != nil {
		initUserDataDirError = err
	}
}

func checkUserDataDirPermissions() {
	if initUserDataDirError != nil {
		userDataDir := getUserDataDir()
		if runtime.GOOS == "darwin" && strings.Contains(initUserDataDirError.Error(), "operation not permitted") {
			fmt.Println(T("error_macos_permission_header"))
			fmt.Printf(T("error_macos_permission_location")+"\n", userDataDir)
			fmt.Println(T("error_macos_permission_fix_instructions"))
			fmt.Println()
		}
		log.Printf(T("error_user_data_dir_warning"), initUserDataDirError)
	}
}

func getUserDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./railfill-data"
	}
	return filepath.Join(home, ".railfill")
}
