package main

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	BookingURL      string `yaml:"booking_url"`
	IdentifierParam string `yaml:"identifier_param"`

	StorePath string `yaml:"store_path"`

	BrowserProfilePath string `yaml:"browser_profile_path"`

	PageLoadTimeout   int `yaml:"page_load_timeout"`
	NavigationRetries int `yaml:"navigation_retries"`

	Headless        bool `yaml:"headless"`
	KeepBrowserOpen bool `yaml:"keep_browser_open"`

	DryRun    bool   `yaml:"dry_run"`
	DebugMode bool   `yaml:"debug_mode"`
	LogLevel  string `yaml:"log_level"`

	Timing TimingConfig `yaml:"timing"`
	Tatkal TatkalConfig `yaml:"tatkal"`

	// ClassLabels maps short class codes to the labels the host shows.
	ClassLabels map[string]string `yaml:"class_labels"`

	// Site picks a named variant from Sites; its non-empty selectors
	// override Selectors.
	Site      string                 `yaml:"site"`
	Selectors SelectorMap            `yaml:"selectors"`
	Sites     map[string]SelectorMap `yaml:"sites"`
}

type TimingConfig struct {
	PollIntervalMs     int `yaml:"poll_interval_ms"`
	KeystrokeDelayMs   int `yaml:"keystroke_delay_ms"`
	StepDelayMs        int `yaml:"step_delay_ms"`
	SettleDelayMs      int `yaml:"settle_delay_ms"`
	DefaultTimeoutMs   int `yaml:"default_timeout_ms"`
	PanelTimeoutMs     int `yaml:"panel_timeout_ms"`
	DropdownTimeoutMs  int `yaml:"dropdown_timeout_ms"`
	CalendarTimeoutMs  int `yaml:"calendar_timeout_ms"`
	TrainListTimeoutMs int `yaml:"train_list_timeout_ms"`
	PassengerTimeoutMs int `yaml:"passenger_timeout_ms"`
	LoginGraceMs       int `yaml:"login_grace_ms"`
	LoginFallbackTries int `yaml:"login_fallback_tries"`
}

type TatkalConfig struct {
	ACOpening    string   `yaml:"ac_opening"`
	NonACOpening string   `yaml:"non_ac_opening"`
	Timezone     string   `yaml:"timezone"`
	LeadDays     int      `yaml:"lead_days"`
	GraceMinutes int      `yaml:"grace_minutes"`
	TimeServers  []string `yaml:"time_servers"`
}

// SelectorMap holds every host-page selector the sequencer touches.
type SelectorMap struct {
	ClassDropdown  string `yaml:"class_dropdown"`
	QuotaDropdown  string `yaml:"quota_dropdown"`
	DropdownToggle string `yaml:"dropdown_toggle"`
	DropdownItem   string `yaml:"dropdown_item"`

	DateInput     string `yaml:"date_input"`
	CalendarPanel string `yaml:"calendar_panel"`
	CalendarMonth string `yaml:"calendar_month"`
	CalendarYear  string `yaml:"calendar_year"`
	CalendarPrev  string `yaml:"calendar_prev"`
	CalendarNext  string `yaml:"calendar_next"`
	CalendarDay   string `yaml:"calendar_day"`

	OriginInput       string `yaml:"origin_input"`
	DestinationInput  string `yaml:"destination_input"`
	AutocompletePanel string `yaml:"autocomplete_panel"`
	AutocompleteItem  string `yaml:"autocomplete_item"`
	SectionHeader     string `yaml:"section_header_prefix"`

	SearchButton string `yaml:"search_button"`

	TrainBlock       string `yaml:"train_block"`
	TrainHeading     string `yaml:"train_heading"`
	ClassCell        string `yaml:"class_cell"`
	ClassCellLabel   string `yaml:"class_cell_label"`
	AvailabilityLink string `yaml:"availability_link"`
	BookButton       string `yaml:"book_button"`

	UsernameInput string `yaml:"username_input"`
	PasswordInput string `yaml:"password_input"`

	PassengerRow         string `yaml:"passenger_row"`
	AddPassenger         string `yaml:"add_passenger"`
	AddPassengerText     string `yaml:"add_passenger_text"`
	PassengerName        string `yaml:"passenger_name"`
	PassengerAge         string `yaml:"passenger_age"`
	PassengerGender      string `yaml:"passenger_gender"`
	PassengerBerth       string `yaml:"passenger_berth"`
	PassengerNationality string `yaml:"passenger_nationality"`

	PaymentOption  string `yaml:"payment_option"`
	ContinueButton string `yaml:"continue_button"`
}

// Timing is TimingConfig converted to durations.
type Timing struct {
	Poll               time.Duration
	Keystroke          time.Duration
	Step               time.Duration
	Settle             time.Duration
	Default            time.Duration
	Panel              time.Duration
	Dropdown           time.Duration
	Calendar           time.Duration
	TrainList          time.Duration
	Passengers         time.Duration
	LoginGrace         time.Duration
	LoginFallbackTries int
}

func DefaultSelectors() SelectorMap {
	return SelectorMap{
		ClassDropdown:  "#journeyClass",
		QuotaDropdown:  "#journeyQuota",
		DropdownToggle: ".ui-dropdown",
		DropdownItem:   ".ui-dropdown-item",

		DateInput:     `.ui-calendar input[type="text"]`,
		CalendarPanel: ".ui-datepicker",
		CalendarMonth: ".ui-datepicker-month",
		CalendarYear:  ".ui-datepicker-year",
		CalendarPrev:  ".ui-datepicker-prev",
		CalendarNext:  ".ui-datepicker-next",
		CalendarDay:   "a.ui-state-default:not(.ui-state-disabled)",

		OriginInput:       `p-autocomplete[formcontrolname="origin"] input[role="searchbox"]`,
		DestinationInput:  `p-autocomplete[formcontrolname="destination"] input[role="searchbox"]`,
		AutocompletePanel: ".ui-autocomplete-panel",
		AutocompleteItem:  `li[role="option"]`,
		SectionHeader:     "-----",

		SearchButton: `button.search_btn.train_Search[type="submit"]`,

		TrainBlock:       "app-train-avl-enq",
		TrainHeading:     ".train-heading strong",
		ClassCell:        "div.pre-avl",
		ClassCellLabel:   "strong",
		AvailabilityLink: "td.link.ng-star-inserted .WL strong",
		BookButton:       "button.btnDefault:not(.disable-book):not([disabled])",

		UsernameInput: `input[formcontrolname="userid"]`,
		PasswordInput: `input[formcontrolname="password"]`,

		PassengerRow:         "app-passenger",
		AddPassenger:         "span.prenext",
		AddPassengerText:     "+ Add Passenger",
		PassengerName:        `input[formcontrolname="passengerName"]`,
		PassengerAge:         `input[formcontrolname="passengerAge"]`,
		PassengerGender:      `select[formcontrolname="passengerGender"]`,
		PassengerBerth:       `select[formcontrolname="passengerBerthChoice"]`,
		PassengerNationality: `select[formcontrolname="passengerNationality"]`,

		PaymentOption:  `input[type="radio"][name="paymentType"]`,
		ContinueButton: `button.train_Search.btnDefault[type="submit"]`,
	}
}

func DefaultConfig() *Config {
	userDataDir := getUserDataDir()

	return &Config{
		BookingURL:         "https://www.irctc.co.in/nget/train-search",
		IdentifierParam:    "bookingId",
		StorePath:          filepath.Join(userDataDir, "drafts.json"),
		BrowserProfilePath: filepath.Join(userDataDir, "browser-profile"),
		PageLoadTimeout:    30,
		NavigationRetries:  5,
		Headless:           false,
		KeepBrowserOpen:    true,
		DryRun:             false,
		DebugMode:          false,
		LogLevel:           "info",
		Timing: TimingConfig{
			PollIntervalMs:     200,
			KeystrokeDelayMs:   120,
			StepDelayMs:        50,
			SettleDelayMs:      300,
			DefaultTimeoutMs:   3000,
			PanelTimeoutMs:     500,
			DropdownTimeoutMs:  500,
			CalendarTimeoutMs:  1000,
			TrainListTimeoutMs: 5000,
			PassengerTimeoutMs: 3000,
			LoginGraceMs:       3000,
			LoginFallbackTries: 30,
		},
		Tatkal: TatkalConfig{
			ACOpening:    "10:00",
			NonACOpening: "11:00",
			Timezone:     "Asia/Kolkata",
			LeadDays:     1,
			GraceMinutes: 15,
			TimeServers: []string{
				"https://www.irctc.co.in",
				"https://www.google.com",
				"https://www.cloudflare.com",
			},
		},
		ClassLabels: map[string]string{
			"SL": "Sleeper (SL)",
			"3E": "AC 3 Economy (3E)",
			"3A": "AC 3 Tier (3A)",
			"2A": "AC 2 Tier (2A)",
			"1A": "AC First Class (1A)",
			"CC": "AC Chair car (CC)",
			"EC": "Exec. Chair Car (EC)",
			"2S": "Second Sitting (2S)",
		},
		Selectors: DefaultSelectors(),
		Sites:     map[string]SelectorMap{},
	}
}

func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := config.Save(path); err != nil {
			return nil, err
		}
		config.applyEnv()
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, err
	}

	config.applyEnv()

	if config.BrowserProfilePath != "" {
		if err := os.MkdirAll(config.BrowserProfilePath, 0755); err != nil {
			return nil, err
		}
	}

	if _, err := config.ActiveSelectors(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// applyEnv lets RAILFILL_* variables, optionally from a .env file, override
// the file settings.
func (c *Config) applyEnv() {
	_ = godotenv.Load()

	c.BookingURL = env("RAILFILL_BOOKING_URL", c.BookingURL)
	c.StorePath = env("RAILFILL_STORE", c.StorePath)
	c.BrowserProfilePath = env("RAILFILL_PROFILE", c.BrowserProfilePath)
	c.LogLevel = env("RAILFILL_LOG_LEVEL", c.LogLevel)
	c.Site = env("RAILFILL_SITE", c.Site)
	c.Timing.PollIntervalMs = envInt("RAILFILL_POLL_INTERVAL_MS", c.Timing.PollIntervalMs)
	c.Timing.KeystrokeDelayMs = envInt("RAILFILL_KEYSTROKE_DELAY_MS", c.Timing.KeystrokeDelayMs)

	if v, ok := envBool("RAILFILL_HEADLESS"); ok {
		c.Headless = v
	}
	if v, ok := envBool("RAILFILL_DRY_RUN"); ok {
		c.DryRun = v
	}
	if v, ok := envBool("RAILFILL_DEBUG"); ok {
		c.DebugMode = v
	}
}

// ActiveSelectors returns the default selectors with the chosen site
// variant merged over them.
func (c *Config) ActiveSelectors() (SelectorMap, error) {
	if c.Site == "" {
		return c.Selectors, nil
	}
	variant, ok := c.Sites[c.Site]
	if !ok {
		return SelectorMap{}, fmt.Errorf("unknown site variant %q", c.Site)
	}
	return c.Selectors.Merge(variant), nil
}

// Merge returns m with every non-empty field of over copied onto it.
func (m SelectorMap) Merge(over SelectorMap) SelectorMap {
	out := m
	dst := reflect.ValueOf(&out).Elem()
	src := reflect.ValueOf(over)
	for i := 0; i < src.NumField(); i++ {
		if v := src.Field(i).String(); v != "" {
			dst.Field(i).SetString(v)
		}
	}
	return out
}

func (t TimingConfig) Durations() Timing {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	return Timing{
		Poll:               ms(t.PollIntervalMs),
		Keystroke:          ms(t.KeystrokeDelayMs),
		Step:               ms(t.StepDelayMs),
		Settle:             ms(t.SettleDelayMs),
		Default:            ms(t.DefaultTimeoutMs),
		Panel:              ms(t.PanelTimeoutMs),
		Dropdown:           ms(t.DropdownTimeoutMs),
		Calendar:           ms(t.CalendarTimeoutMs),
		TrainList:          ms(t.TrainListTimeoutMs),
		Passengers:         ms(t.PassengerTimeoutMs),
		LoginGrace:         ms(t.LoginGraceMs),
		LoginFallbackTries: t.LoginFallbackTries,
	}
}

func env(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func envInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func envBool(key string) (bool, bool) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return false, false
	}
	return v == "true" || v == "1" || v == "yes", true
}
