package main

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"
)

// maxCalendarSteps bounds month navigation in the date picker.
const maxCalendarSteps = 12

var parenthetical = regexp.MustCompile(`\(.*?\)`)

// clickSequence is what some widget libraries need before they register a
// selection; a bare click event is ignored.
var clickSequence = []string{"pointerdown", "mousedown", "mouseup", "click"}

// Driver mutates host form controls and dispatches the events the host
// framework listens for, so its reactive state updates like a human typed.
type Driver struct {
	doc    Document
	wait   *Waiter
	sel    SelectorMap
	timing Timing
	logger *zap.Logger
}

func NewDriver(doc Document, wait *Waiter, sel SelectorMap, timing Timing, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		doc:    doc,
		wait:   wait,
		sel:    sel,
		timing: timing,
		logger: logger.Named("driver"),
	}
}

// SetText clears el and types value one character at a time, dispatching
// keydown and input after every character. Host autocompletes are keystroke
// driven and ignore a value set in one assignment.
func (d *Driver) SetText(ctx context.Context, el Element, value string) error {
	if err := el.Focus(ctx); err != nil {
		return err
	}
	if err := el.SetValue(ctx, ""); err != nil {
		return err
	}
	if err := el.Dispatch(ctx, Event{Type: "input"}); err != nil {
		return err
	}
	if err := sleepCtx(ctx, d.timing.Keystroke); err != nil {
		return err
	}

	runes := []rune(value)
	for i, r := range runes {
		if err := el.SetValue(ctx, string(runes[:i+1])); err != nil {
			return err
		}
		if err := el.Dispatch(ctx, Event{Type: "keydown", Key: string(r)}, Event{Type: "input"}); err != nil {
			return err
		}
		if err := sleepCtx(ctx, d.timing.Keystroke); err != nil {
			return err
		}
	}
	return nil
}

// SetValue assigns value directly and fires input and change.
func (d *Driver) SetValue(ctx context.Context, el Element, value string) error {
	if err := el.SetValue(ctx, value); err != nil {
		return err
	}
	return el.Dispatch(ctx, events("input", "change")...)
}

// Press fires the full pointer sequence on el.
func (d *Driver) Press(ctx context.Context, el Element) error {
	d.scrollIntoView(ctx, el)
	return el.Dispatch(ctx, events(clickSequence...)...)
}

// scrollIntoView is best effort; a click on an off-screen node still lands.
func (d *Driver) scrollIntoView(ctx context.Context, el Element) {
	if err := el.ScrollIntoView(ctx); err != nil {
		d.logger.Debug("scroll into view failed", zap.Error(err))
	}
}

// SelectFromList waits for the suggestion panel to become visible and
// presses the first item, top to bottom, whose text satisfies match.
// Section headers are skipped. The input is blurred after a selection.
func (d *Driver) SelectFromList(ctx context.Context, input Element, panelSelector string, match func(string) bool) (string, error) {
	panel, err := d.wait.Visible(ctx, panelSelector, d.timing.Panel)
	if err != nil {
		return "", err
	}

	items, err := panel.FindAll(ctx, d.sel.AutocompleteItem)
	if err != nil {
		return "", err
	}

	for _, item := range items {
		text, err := item.Text(ctx)
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text == "" || (d.sel.SectionHeader != "" && strings.HasPrefix(text, d.sel.SectionHeader)) {
			continue
		}
		if !match(text) {
			continue
		}

		if err := d.Press(ctx, item); err != nil {
			return "", err
		}
		if input != nil {
			if err := input.Blur(ctx); err != nil {
				return "", err
			}
		}
		d.logger.Debug("suggestion selected", zap.String("text", text))
		return text, nil
	}
	return "", fmt.Errorf("%w: %d suggestions in %s", ErrNoMatch, len(items), panelSelector)
}

// SelectDropdownOption opens the custom dropdown inside container and
// clicks the first option whose text equals one of labels, ignoring case.
// Labels are tried in order.
func (d *Driver) SelectDropdownOption(ctx context.Context, containerSelector string, labels ...string) (string, error) {
	container, err := d.wait.Element(ctx, containerSelector, d.timing.Default)
	if err != nil {
		return "", err
	}
	toggle, err := container.Find(ctx, d.sel.DropdownToggle)
	if err != nil {
		return "", err
	}
	if toggle == nil {
		return "", fmt.Errorf("%w: %s %s", ErrNotFound, containerSelector, d.sel.DropdownToggle)
	}
	if err := toggle.Click(ctx); err != nil {
		return "", err
	}

	options, err := d.wait.All(ctx, d.sel.DropdownItem, d.timing.Dropdown, 1)
	if err != nil {
		return "", err
	}

	texts := make([]string, len(options))
	for i, opt := range options {
		text, err := opt.Text(ctx)
		if err != nil {
			return "", err
		}
		texts[i] = strings.TrimSpace(text)
	}

	for _, label := range labels {
		for i, text := range texts {
			if strings.EqualFold(text, strings.TrimSpace(label)) {
				if err := options[i].Click(ctx); err != nil {
					return "", err
				}
				return text, nil
			}
		}
	}
	return "", fmt.Errorf("%w: none of %q among %d options", ErrNoMatch, labels, len(options))
}

// SelectCalendarDate opens the date picker, steps the displayed month
// towards target (at most maxCalendarSteps clicks) and clicks the day.
// Without convergence the date is left unset.
func (d *Driver) SelectCalendarDate(ctx context.Context, inputSelector string, target time.Time) error {
	input, err := d.wait.Element(ctx, inputSelector, d.timing.Default)
	if err != nil {
		return err
	}
	if err := input.Focus(ctx); err != nil {
		return err
	}
	if err := input.Click(ctx); err != nil {
		return err
	}

	panel, err := d.wait.Visible(ctx, d.sel.CalendarPanel, d.timing.Calendar)
	if err != nil {
		return err
	}

	want := target.Year()*12 + int(target.Month()) - 1
	converged := false
	for step := 0; ; step++ {
		shown, err := d.displayedMonth(ctx, panel)
		if err != nil {
			return err
		}
		if shown == want {
			converged = true
			break
		}
		if step == maxCalendarSteps {
			break
		}

		nav := d.sel.CalendarNext
		if shown > want {
			nav = d.sel.CalendarPrev
		}
		btn, err := panel.Find(ctx, nav)
		if err != nil {
			return err
		}
		if btn == nil {
			return fmt.Errorf("%w: calendar control %s", ErrNotFound, nav)
		}
		if err := btn.Click(ctx); err != nil {
			return err
		}
		if err := sleepCtx(ctx, d.timing.Settle/2); err != nil {
			return err
		}
		if fresh, err := d.doc.Find(ctx, d.sel.CalendarPanel); err == nil && fresh != nil {
			panel = fresh
		}
	}
	if !converged {
		return fmt.Errorf("%w: calendar did not reach %s within %d steps", ErrNoMatch, target.Format("January 2006"), maxCalendarSteps)
	}

	cells, err := panel.FindAll(ctx, d.sel.CalendarDay)
	if err != nil {
		return err
	}
	day := strconv.Itoa(target.Day())
	for _, cell := range cells {
		text, err := cell.Text(ctx)
		if err != nil {
			return err
		}
		if strings.TrimSpace(text) == day {
			d.scrollIntoView(ctx, cell)
			return cell.Click(ctx)
		}
	}
	return fmt.Errorf("%w: day %s not selectable", ErrNoMatch, day)
}

// displayedMonth returns year*12+month0 for the panel's header.
func (d *Driver) displayedMonth(ctx context.Context, panel Element) (int, error) {
	monthText, err := textOf(ctx, panel, d.sel.CalendarMonth)
	if err != nil {
		return 0, err
	}
	yearText, err := textOf(ctx, panel, d.sel.CalendarYear)
	if err != nil {
		return 0, err
	}
	month, ok := parseMonthName(monthText)
	if !ok {
		return 0, fmt.Errorf("%w: calendar month %q", ErrNoMatch, monthText)
	}
	year, err := strconv.Atoi(strings.TrimSpace(yearText))
	if err != nil {
		return 0, fmt.Errorf("%w: calendar year %q", ErrNoMatch, yearText)
	}
	return year*12 + int(month) - 1, nil
}

// SelectOption picks the option of a native select whose label equals
// label, then fires input and change and blurs the control. An exact label
// wins over a case-insensitive one; the value attribute is tried last.
func (d *Driver) SelectOption(ctx context.Context, sel Element, label string) error {
	opts, err := sel.FindAll(ctx, "option")
	if err != nil {
		return err
	}
	texts := make([]string, len(opts))
	values := make([]string, len(opts))
	for i, opt := range opts {
		text, err := opt.Text(ctx)
		if err != nil {
			return err
		}
		value, _, err := opt.Attr(ctx, "value")
		if err != nil {
			return err
		}
		texts[i] = strings.TrimSpace(text)
		values[i] = value
	}

	want := strings.TrimSpace(label)
	passes := []func(i int) bool{
		func(i int) bool { return texts[i] == want },
		func(i int) bool { return strings.EqualFold(texts[i], want) },
		func(i int) bool { return values[i] != "" && values[i] == want },
	}
	for _, match := range passes {
		for i, opt := range opts {
			if !match(i) {
				continue
			}
			if err := opt.SetSelected(ctx); err != nil {
				return err
			}
			if err := sel.Dispatch(ctx, events("input", "change")...); err != nil {
				return err
			}
			return sel.Blur(ctx)
		}
	}
	return fmt.Errorf("%w: option %q among %d", ErrNoMatch, label, len(opts))
}

// PrefixMatcher implements the truncated station match: the first k
// normalized characters of a suggestion must equal those of the query,
// k = min(4, len(query)).
func PrefixMatcher(query string) func(string) bool {
	q := []rune(normalizeQuery(query))
	k := len(q)
	if k > 4 {
		k = 4
	}
	want := string(q[:k])
	return func(suggestion string) bool {
		if k == 0 {
			return false
		}
		s := []rune(normalizeSuggestion(suggestion))
		if len(s) < k {
			return false
		}
		return string(s[:k]) == want
	}
}

// TypedPrefix is what gets typed into a station field: the first four
// non-space characters of the name.
func TypedPrefix(station string) string {
	r := []rune(stripSpace(station))
	if len(r) > 4 {
		r = r[:4]
	}
	return string(r)
}

func normalizeQuery(s string) string {
	return strings.ToLower(stripSpace(s))
}

func normalizeSuggestion(s string) string {
	return normalizeQuery(parenthetical.ReplaceAllString(s, ""))
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func parseMonthName(s string) (time.Month, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) < 3 {
		return 0, false
	}
	for m := time.January; m <= time.December; m++ {
		name := strings.ToLower(m.String())
		if s == name || s == name[:3] {
			return m, true
		}
	}
	return 0, false
}

func textOf(ctx context.Context, scope Element, selector string) (string, error) {
	el, err := scope.Find(ctx, selector)
	if err != nil {
		return "", err
	}
	if el == nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, selector)
	}
	text, err := el.Text(ctx)
	return strings.TrimSpace(text), err
}
