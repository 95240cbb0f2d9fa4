package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/html"
)

const passengerRowHTML = `<app-passenger>
<input formcontrolname="passengerName" type="text">
<input formcontrolname="passengerAge" type="number">
<select formcontrolname="passengerGender">
<option value="">Gender</option><option value="M">Male</option><option value="F">Female</option><option value="T">Transgender</option>
</select>
<select formcontrolname="passengerBerthChoice">
<option value="">No Preference</option><option value="LB">Lower</option><option value="MB">Middle</option>
<option value="UB">Upper</option><option value="SL">Side Lower</option><option value="SU">Side Upper</option>
</select>
<select formcontrolname="passengerNationality">
<option value="IN">India</option><option value="NP">Nepal</option>
</select>
</app-passenger>`

const bookingPageHTML = `<!DOCTYPE html>
<html><head><title>Book Ticket</title></head><body>
<form id="search">
<p-autocomplete formcontrolname="origin"><span class="ui-autocomplete"><input id="origin" role="searchbox" type="text"></span></p-autocomplete>
<p-autocomplete formcontrolname="destination"><span class="ui-autocomplete"><input id="destination" role="searchbox" type="text"></span></p-autocomplete>
<p-calendar><span class="ui-calendar"><input id="jDate" type="text"></span></p-calendar>
<p-dropdown id="journeyClass"><div class="ui-dropdown"><label class="ui-dropdown-label">All Classes</label></div></p-dropdown>
<p-dropdown id="journeyQuota"><div class="ui-dropdown"><label class="ui-dropdown-label">GENERAL</label></div></p-dropdown>
<button class="search_btn train_Search" type="submit">Search</button>
</form>
<div id="results"></div>
<div id="pax">
<div id="passengers">` + passengerRowHTML + `</div>
<span class="prenext">+ Add Infant With Berth</span>
<span class="prenext">+ Add Passenger</span>
<input type="radio" name="paymentType" value="3">
<input type="radio" name="paymentType" value="2">
<button class="train_Search btnDefault" type="submit">Continue</button>
</div>
<div class="ui-autocomplete-panel" style="opacity: 0"></div>
</body></html>`

const loginModalHTML = `<div class="login-modal">
<input formcontrolname="userid" type="text">
<input formcontrolname="password" type="password">
</div>`

var hostStations = []string{
	"NEW DELHI - NDLS (NEW DELHI)",
	"DELHI - DLI (DELHI)",
	"DELHI SARAI ROHILLA - DEE (DELHI)",
	"MUMBAI CENTRAL - MMCT (MUMBAI)",
	"LOKMANYATILAK T - LTT (MUMBAI)",
	"CHENNAI CENTRAL - MAS (CHENNAI)",
}

var hostClasses = []string{
	"All Classes", "Anubhuti Class (EA)", "AC First Class (1A)", "Exec. Chair Car (EC)",
	"AC 2 Tier (2A)", "First Class (FC)", "AC 3 Tier (3A)", "AC 3 Economy (3E)",
	"AC Chair car (CC)", "Sleeper (SL)", "Second Sitting (2S)",
}

var hostQuotas = []string{
	"GENERAL", "LADIES", "LOWER BERTH/SR.CITIZEN", "PERSON WITH DISABILITY", "DUTY PASS", "TATKAL", "PREMIUM TATKAL",
}

// hostPage is a scripted stand-in for the booking site. It reacts to the
// synthetic events the sequencer fires the way the real widgets do. Its
// fields are written by handlers on the dispatching goroutine.
type hostPage struct {
	doc *HTMLDocument

	shown     time.Time
	open      string
	dropdowns map[string]string
	active    string
	typed     map[string]string
	stations  map[string]string
	date      string
	searched  bool
	classCell string
	availSeen bool
	booked    string
	addClicks int
	payment   string
	continued bool

	loginOnSearch bool
	asyncDelay    time.Duration
}

func newHostPage(t *testing.T, pageURL string, shown time.Time) *hostPage {
	t.Helper()
	doc, err := ParseHTMLDocument(pageURL, strings.NewReader(bookingPageHTML), nil)
	if err != nil {
		t.Fatalf("Failed to parse booking page: %v", err)
	}
	h := &hostPage{
		doc:        doc,
		shown:      time.Date(shown.Year(), shown.Month(), 1, 0, 0, 0, 0, time.UTC),
		dropdowns:  map[string]string{},
		typed:      map[string]string{},
		stations:   map[string]string{},
		asyncDelay: 20 * time.Millisecond,
	}
	h.install()
	return h
}

func (h *hostPage) install() {
	d := h.doc

	d.On("#journeyClass .ui-dropdown", "click", func(d *HTMLDocument, _ *html.Node) { h.openDropdown("class", hostClasses) })
	d.On("#journeyQuota .ui-dropdown", "click", func(d *HTMLDocument, _ *html.Node) { h.openDropdown("quota", hostQuotas) })
	d.On(".ui-dropdown-item", "click", func(d *HTMLDocument, n *html.Node) {
		text := d.NodeText(n)
		h.dropdowns[h.open] = text
		id := map[string]string{"class": "#journeyClass", "quota": "#journeyQuota"}[h.open]
		d.SetText(id+" .ui-dropdown-label", text)
		d.Remove(".ui-dropdown-items")
	})

	d.On(".ui-calendar input", "click", func(d *HTMLDocument, _ *html.Node) {
		if d.Count(".ui-datepicker") == 0 {
			h.renderCalendar()
		}
	})
	d.On(".ui-datepicker-next", "click", func(d *HTMLDocument, _ *html.Node) {
		h.shown = h.shown.AddDate(0, 1, 0)
		h.renderCalendar()
	})
	d.On(".ui-datepicker-prev", "click", func(d *HTMLDocument, _ *html.Node) {
		h.shown = h.shown.AddDate(0, -1, 0)
		h.renderCalendar()
	})
	d.On(".ui-datepicker a.ui-state-default", "click", func(d *HTMLDocument, n *html.Node) {
		day, _ := strconv.Atoi(d.NodeText(n))
		h.date = fmt.Sprintf("%04d-%02d-%02d", h.shown.Year(), int(h.shown.Month()), day)
		d.SetAttr("#jDate", "value", h.date)
		d.Remove(".ui-datepicker")
	})

	for _, field := range []string{"origin", "destination"} {
		field := field
		d.On(`p-autocomplete[formcontrolname="`+field+`"] input`, "input", func(d *HTMLDocument, n *html.Node) {
			h.active = field
			h.typed[field] = d.NodeValue(n)
			h.suggest(h.typed[field])
		})
	}
	d.On(`.ui-autocomplete-panel li[role="option"]`, "click", func(d *HTMLDocument, n *html.Node) {
		text := d.NodeText(n)
		h.stations[h.active] = text
		d.SetAttr("#"+h.active, "value", text)
		h.suggest("")
	})

	d.On("button.search_btn", "click", func(d *HTMLDocument, _ *html.Node) {
		h.searched = true
		d.Append("#results", trainBlockHTML("12951", "MUMBAI RAJDHANI"))
		d.Append("#results", trainBlockHTML("12952", "NDLS RAJDHANI"))
		if h.loginOnSearch {
			go func() {
				time.Sleep(h.asyncDelay)
				d.Append("body", loginModalHTML)
			}()
		}
	})
	d.On("div.pre-avl", "click", func(d *HTMLDocument, n *html.Node) {
		train := d.NodeAttr(n, "data-train")
		h.classCell = train + " " + d.NodeText(n)
		d.Append("#t"+train+" .avail", `<table><tbody><tr><td class="link ng-star-inserted"><div class="WL"><strong>AVAILABLE-0042</strong></div></td></tr></tbody></table>`)
		d.Append("#t"+train, `<button class="btnDefault" type="button" data-train="`+train+`">Book Now</button>`)
	})
	d.On("td.link .WL strong", "click", func(d *HTMLDocument, _ *html.Node) {
		h.availSeen = true
	})
	d.On("app-train-avl-enq button.btnDefault", "click", func(d *HTMLDocument, n *html.Node) {
		if strings.Contains(d.NodeAttr(n, "class"), "disable-book") {
			return
		}
		h.booked = d.NodeAttr(n, "data-train")
	})

	d.On("span.prenext", "click", func(d *HTMLDocument, n *html.Node) {
		if !strings.Contains(d.NodeText(n), "Add Passenger") {
			return
		}
		h.addClicks++
		go func() {
			time.Sleep(h.asyncDelay)
			d.Append("#passengers", passengerRowHTML)
		}()
	})
	d.On(`input[name="paymentType"]`, "click", func(d *HTMLDocument, n *html.Node) {
		h.payment = d.NodeAttr(n, "value")
	})
	d.On("#pax button.btnDefault", "click", func(d *HTMLDocument, _ *html.Node) {
		h.continued = true
	})
}

func (h *hostPage) openDropdown(name string, labels []string) {
	h.open = name
	h.doc.Remove(".ui-dropdown-items")
	var b strings.Builder
	b.WriteString(`<ul class="ui-dropdown-items">`)
	for _, l := range labels {
		b.WriteString(`<li class="ui-dropdown-item">` + html.EscapeString(l) + `</li>`)
	}
	b.WriteString(`</ul>`)
	h.doc.Append("body", b.String())
}

func (h *hostPage) renderCalendar() {
	h.doc.Remove(".ui-datepicker")
	var b strings.Builder
	b.WriteString(`<div class="ui-datepicker"><div class="ui-datepicker-header">`)
	b.WriteString(`<a class="ui-datepicker-prev">Prev</a><a class="ui-datepicker-next">Next</a>`)
	b.WriteString(`<span class="ui-datepicker-month">` + h.shown.Month().String() + `</span>`)
	b.WriteString(`<span class="ui-datepicker-year">` + fmt.Sprint(h.shown.Year()) + `</span></div>`)
	b.WriteString(`<table><tbody><tr>`)
	// Spill-over from the previous month is shown disabled.
	b.WriteString(`<td><a class="ui-state-default ui-state-disabled">12</a></td>`)
	days := time.Date(h.shown.Year(), h.shown.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
	for day := 1; day <= days; day++ {
		fmt.Fprintf(&b, `<td><a class="ui-state-default">%d</a></td>`, day)
	}
	b.WriteString(`</tr></tbody></table></div>`)
	h.doc.Append(".ui-calendar", b.String())
}

func (h *hostPage) suggest(query string) {
	h.doc.Remove(".ui-autocomplete-panel")
	if query == "" {
		h.doc.Append("body", `<div class="ui-autocomplete-panel" style="opacity: 0"></div>`)
		return
	}
	var b strings.Builder
	b.WriteString(`<div class="ui-autocomplete-panel" style="opacity: 1"><ul>`)
	b.WriteString(`<li role="option">----- Stations -----</li>`)
	for _, s := range hostStations {
		if strings.Contains(strings.ToLower(s), strings.ToLower(query)) {
			b.WriteString(`<li role="option">` + html.EscapeString(s) + `</li>`)
		}
	}
	b.WriteString(`</ul></div>`)
	h.doc.Append("body", b.String())
}

func trainBlockHTML(number, name string) string {
	return `<app-train-avl-enq id="t` + number + `">
<div class="train-heading"><strong>` + name + ` (` + number + `)</strong></div>
<div class="pre-avl" data-train="` + number + `"><strong>Sleeper (SL)</strong></div>
<div class="pre-avl" data-train="` + number + `"><strong>AC 3 Tier (3A)</strong></div>
<div class="avail"></div>
<button class="btnDefault disable-book" type="button">Book Now</button>
</app-train-avl-enq>`
}

// rowValues returns the control values of every passenger row.
func (h *hostPage) rowValues(t *testing.T) [][]string {
	t.Helper()
	ctx := context.Background()
	rows, err := h.doc.FindAll(ctx, "app-passenger")
	if err != nil {
		t.Fatal(err)
	}
	var out [][]string
	for _, row := range rows {
		var vals []string
		for _, sel := range []string{
			`[formcontrolname="passengerName"]`,
			`[formcontrolname="passengerAge"]`,
			`[formcontrolname="passengerGender"]`,
			`[formcontrolname="passengerBerthChoice"]`,
		} {
			el, err := row.Find(ctx, sel)
			if err != nil || el == nil {
				t.Fatalf("row control %s missing: %v", sel, err)
			}
			v, _ := el.Value(ctx)
			vals = append(vals, v)
		}
		out = append(out, vals)
	}
	return out
}

type memDrafts []BookingDraft

func (m memDrafts) Find(id string) (*BookingDraft, error) {
	return FindDraft(m, id)
}

// testConfig is the default configuration with timings shrunk for tests.
func testConfig() *Config {
	config := DefaultConfig()
	config.BrowserProfilePath = ""
	config.Timing = TimingConfig{
		PollIntervalMs:     5,
		KeystrokeDelayMs:   1,
		StepDelayMs:        0,
		SettleDelayMs:      1,
		DefaultTimeoutMs:   500,
		PanelTimeoutMs:     300,
		DropdownTimeoutMs:  300,
		CalendarTimeoutMs:  300,
		TrainListTimeoutMs: 500,
		PassengerTimeoutMs: 500,
		LoginGraceMs:       1000,
		LoginFallbackTries: 100,
	}
	return config
}

func testDriver(t *testing.T, doc Document) *Driver {
	t.Helper()
	config := testConfig()
	timing := config.Timing.Durations()
	return NewDriver(doc, NewWaiter(doc, timing.Poll), config.Selectors, timing, nil)
}
