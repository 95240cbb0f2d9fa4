package main

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

var trainNumberPattern = regexp.MustCompile(`\((\d+)\)`)

func (s *Sequencer) setClass(ctx context.Context, rc *RunContext) error {
	if len(rc.Classes) == 0 || rc.Classes[0] == "" {
		return fmt.Errorf("%w: no travel class", errSkipped)
	}
	picked, err := s.driver.SelectDropdownOption(ctx, s.sel.ClassDropdown, rc.Classes...)
	if err != nil {
		return err
	}
	s.logger.Info("class selected", zap.String("class", picked))
	return nil
}

func (s *Sequencer) setQuota(ctx context.Context, rc *RunContext) error {
	quota := strings.TrimSpace(rc.Draft.Quota)
	if quota == "" {
		return fmt.Errorf("%w: no quota", errSkipped)
	}
	picked, err := s.driver.SelectDropdownOption(ctx, s.sel.QuotaDropdown, quota)
	if err != nil {
		return err
	}
	s.logger.Info("quota selected", zap.String("quota", picked))
	return nil
}

func (s *Sequencer) setDate(ctx context.Context, rc *RunContext) error {
	date, err := rc.Draft.TravelDate()
	if err != nil {
		return err
	}
	if err := s.driver.SelectCalendarDate(ctx, s.sel.DateInput, date); err != nil {
		return err
	}
	s.logger.Info("date selected", zap.String("date", date.Format("2006-01-02")))
	return nil
}

func (s *Sequencer) setOrigin(ctx context.Context, rc *RunContext) error {
	return s.setStation(ctx, "origin", s.sel.OriginInput, rc.Draft.Origin)
}

func (s *Sequencer) setDestination(ctx context.Context, rc *RunContext) error {
	return s.setStation(ctx, "destination", s.sel.DestinationInput, rc.Draft.Destination)
}

// setStation types the first characters of the station and picks the first
// suggestion sharing that prefix.
func (s *Sequencer) setStation(ctx context.Context, field, selector, station string) error {
	prefix := TypedPrefix(station)
	if prefix == "" {
		return fmt.Errorf("%w: no %s", errSkipped, field)
	}
	input, err := s.wait.Element(ctx, selector, s.timing.Default)
	if err != nil {
		return err
	}
	if err := s.driver.SetText(ctx, input, prefix); err != nil {
		return err
	}
	picked, err := s.driver.SelectFromList(ctx, input, s.sel.AutocompletePanel, PrefixMatcher(prefix))
	if err != nil {
		return err
	}
	s.logger.Info("station selected", zap.String("field", field), zap.String("typed", prefix), zap.String("suggestion", picked))
	return nil
}

// armLogin starts the login watcher. It runs under watchCtx, which outlives
// individual steps and ends with the run.
func (s *Sequencer) armLogin(watchCtx context.Context, rc *RunContext) error {
	creds := rc.Draft.Credentials
	if creds == nil || creds.Username == "" {
		return fmt.Errorf("%w: no stored credentials", errSkipped)
	}
	s.watcher = NewLoginWatcher(s.doc, s.driver, s.sel, s.timing, *creds, s.logger)
	s.watcher.Arm(watchCtx)
	return nil
}

func (s *Sequencer) submitSearch(ctx context.Context, _ *RunContext) error {
	btn, err := s.wait.Element(ctx, s.sel.SearchButton, s.timing.Default)
	if err != nil {
		return err
	}
	s.driver.scrollIntoView(ctx, btn)
	if err := btn.Click(ctx); err != nil {
		return err
	}
	return sleepCtx(ctx, s.timing.Settle)
}

func (s *Sequencer) selectTrainAndClass(ctx context.Context, rc *RunContext) error {
	want := digitsOnly(rc.Draft.TrainNumber)
	if want == "" {
		return fmt.Errorf("%w: no train number", errSkipped)
	}

	blocks, err := s.wait.All(ctx, s.sel.TrainBlock, s.timing.TrainList, 1)
	if err != nil {
		return err
	}

	var block Element
	for _, b := range blocks {
		heading, err := textOf(ctx, b, s.sel.TrainHeading)
		if err != nil {
			continue
		}
		m := trainNumberPattern.FindStringSubmatch(heading)
		if m != nil && m[1] == want {
			block = b
			break
		}
	}
	if block == nil {
		return fmt.Errorf("%w: train %s among %d results", ErrNoMatch, want, len(blocks))
	}

	cell, err := s.findClassCell(ctx, block, rc.Classes)
	if err != nil {
		return err
	}
	s.driver.scrollIntoView(ctx, cell)
	if err := cell.Click(ctx); err != nil {
		return err
	}
	if err := sleepCtx(ctx, s.timing.Settle); err != nil {
		return err
	}

	if s.sel.AvailabilityLink != "" {
		if link, err := block.Find(ctx, s.sel.AvailabilityLink); err == nil && link != nil {
			if err := link.Click(ctx); err != nil {
				return err
			}
			if err := sleepCtx(ctx, s.timing.Settle); err != nil {
				return err
			}
		}
	}

	book, err := block.Find(ctx, s.sel.BookButton)
	if err != nil {
		return err
	}
	if book == nil {
		return fmt.Errorf("%w: enabled %s in train %s", ErrNotFound, s.sel.BookButton, want)
	}
	s.driver.scrollIntoView(ctx, book)
	if err := book.Click(ctx); err != nil {
		return err
	}
	s.logger.Info("train selected", zap.String("train", want))
	return nil
}

func (s *Sequencer) findClassCell(ctx context.Context, block Element, classes []string) (Element, error) {
	cells, err := block.FindAll(ctx, s.sel.ClassCell)
	if err != nil {
		return nil, err
	}
	labels := make([]string, len(cells))
	for i, c := range cells {
		text, err := textOf(ctx, c, s.sel.ClassCellLabel)
		if err != nil {
			continue
		}
		labels[i] = text
	}
	for _, class := range classes {
		for i, label := range labels {
			if label != "" && strings.EqualFold(label, strings.TrimSpace(class)) {
				return cells[i], nil
			}
		}
	}
	return nil, fmt.Errorf("%w: class %q among %d cells", ErrNoMatch, classes, len(cells))
}

func (s *Sequencer) autofillPassengers(ctx context.Context, rc *RunContext) error {
	if len(rc.Passengers) == 0 {
		return fmt.Errorf("%w: no passengers", errSkipped)
	}
	need := len(rc.Passengers)
	if need > MaxPassengers {
		need = MaxPassengers
	}

	rows, rowsErr := s.ensureRows(ctx, need)
	if len(rows) < need {
		need = len(rows)
	}

	var errs []error
	for i, p := range rc.Passengers[:need] {
		if err := s.fillRow(ctx, rows[i], p); err != nil {
			errs = append(errs, fmt.Errorf("passenger %d: %w", i+1, err))
			continue
		}
		s.logger.Debug("passenger filled", zap.Int("row", i+1), zap.String("name", p.Name))
	}
	if rowsErr != nil {
		errs = append(errs, rowsErr)
	}
	return errors.Join(errs...)
}

// ensureRows clicks the add-passenger control until the form has need rows.
// Rows render asynchronously, so the row list is re-queried after each click.
// When it gives up it still returns the rows present at that point.
func (s *Sequencer) ensureRows(ctx context.Context, need int) ([]Element, error) {
	rows, err := s.wait.All(ctx, s.sel.PassengerRow, s.timing.Passengers, 1)
	if err != nil {
		return rows, err
	}

	for clicks := 0; len(rows) < need && clicks < MaxPassengers; clicks++ {
		add, err := s.addPassengerControl(ctx)
		if err != nil {
			return rows, err
		}
		if err := s.driver.Press(ctx, add); err != nil {
			return rows, err
		}
		more, err := s.wait.All(ctx, s.sel.PassengerRow, s.timing.Passengers, len(rows)+1)
		if len(more) > len(rows) {
			rows = more
		}
		if err != nil {
			return rows, err
		}
	}
	if len(rows) < need {
		return rows, fmt.Errorf("%w: %d passenger rows, need %d", ErrNotFound, len(rows), need)
	}
	return rows, nil
}

func (s *Sequencer) addPassengerControl(ctx context.Context) (Element, error) {
	candidates, err := s.doc.FindAll(ctx, s.sel.AddPassenger)
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		if s.sel.AddPassengerText == "" {
			return c, nil
		}
		text, err := c.Text(ctx)
		if err != nil {
			return nil, err
		}
		if strings.Contains(strings.ToLower(text), strings.ToLower(strings.TrimSpace(s.sel.AddPassengerText))) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: add passenger control %s", ErrNotFound, s.sel.AddPassenger)
}

func (s *Sequencer) fillRow(ctx context.Context, row Element, p Passenger) error {
	name, err := row.Find(ctx, s.sel.PassengerName)
	if err != nil {
		return err
	}
	if name == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, s.sel.PassengerName)
	}
	if err := s.driver.SetText(ctx, name, p.Name); err != nil {
		return err
	}
	if err := name.Blur(ctx); err != nil {
		return err
	}

	if p.Age != "" {
		age, err := row.Find(ctx, s.sel.PassengerAge)
		if err != nil {
			return err
		}
		if age == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, s.sel.PassengerAge)
		}
		if err := s.driver.SetValue(ctx, age, p.Age); err != nil {
			return err
		}
	}

	selects := []struct {
		selector string
		value    string
	}{
		{s.sel.PassengerGender, p.Gender},
		{s.sel.PassengerBerth, p.SeatPref},
		{s.sel.PassengerNationality, p.Nationality},
	}
	for _, f := range selects {
		if f.value == "" || f.selector == "" {
			continue
		}
		ctl, err := row.Find(ctx, f.selector)
		if err != nil {
			return err
		}
		if ctl == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, f.selector)
		}
		if err := s.driver.SelectOption(ctx, ctl, f.value); err != nil {
			return err
		}
	}
	return nil
}

// selectPaymentMethod picks only the method stored with the draft.
func (s *Sequencer) selectPaymentMethod(ctx context.Context, rc *RunContext) error {
	creds := rc.Draft.Credentials
	if creds == nil || strings.TrimSpace(creds.PaymentMethod) == "" {
		return fmt.Errorf("%w: no stored payment method", errSkipped)
	}
	want := strings.TrimSpace(creds.PaymentMethod)

	opts, err := s.wait.All(ctx, s.sel.PaymentOption, s.timing.Default, 1)
	if err != nil {
		return err
	}
	for _, opt := range opts {
		value, _, err := opt.Attr(ctx, "value")
		if err != nil {
			return err
		}
		text, err := opt.Text(ctx)
		if err != nil {
			return err
		}
		if !strings.EqualFold(value, want) && !strings.EqualFold(strings.TrimSpace(text), want) {
			continue
		}
		if err := s.driver.Press(ctx, opt); err != nil {
			return err
		}
		s.logger.Info("payment method selected", zap.String("method", want))
		return nil
	}
	return fmt.Errorf("%w: payment method %q among %d options", ErrNoMatch, want, len(opts))
}

func (s *Sequencer) continueBooking(ctx context.Context, rc *RunContext) error {
	if rc.DryRun {
		return fmt.Errorf("%w: dry run", errSkipped)
	}
	btn, err := s.wait.Element(ctx, s.sel.ContinueButton, s.timing.Default)
	if err != nil {
		return err
	}
	s.driver.scrollIntoView(ctx, btn)
	return btn.Click(ctx)
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}
