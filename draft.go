package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// MaxPassengers is the host site's per-booking passenger cap.
const MaxPassengers = 4

var (
	ErrDraftNotFound  = errors.New("booking draft not found")
	ErrDuplicateDraft = errors.New("booking draft already exists")
	ErrInvalidDraft   = errors.New("invalid booking draft")
)

type Passenger struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Age         string `json:"age"`
	Gender      string `json:"gender"`
	SeatPref    string `json:"seatPref,omitempty"`
	Nationality string `json:"nationality,omitempty"`
}

// UnmarshalJSON accepts age stored either as a string or as a number.
func (p *Passenger) UnmarshalJSON(data []byte) error {
	type plain Passenger
	aux := struct {
		*plain
		Age flexString `json:"age"`
	}{plain: (*plain)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	p.Age = string(aux.Age)
	return nil
}

// Credentials are kept in clear text, exactly as the draft form stored them.
type Credentials struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	PaymentMethod string `json:"paymentMethod,omitempty"`
}

// BookingDraft is one saved trip request. A single draft keeps its only
// passenger hoisted onto the draft itself; a grouped draft carries a
// passenger list and a group identifier.
type BookingDraft struct {
	ID          string
	GroupID     string
	Origin      string
	Destination string
	Date        string
	TravelClass string
	Quota       string
	TrainNumber string
	AutoTatkal  bool
	Phone       string
	Email       string

	Name        string
	Age         string
	Gender      string
	SeatPref    string
	Nationality string

	Passengers  []Passenger
	Credentials *Credentials
}

// draftWire is the canonical stored shape.
type draftWire struct {
	ID          string       `json:"id,omitempty"`
	GroupID     string       `json:"groupId,omitempty"`
	Origin      string       `json:"origin"`
	Destination string       `json:"destination"`
	Date        string       `json:"date"`
	TravelClass string       `json:"travelClass"`
	Quota       string       `json:"quota"`
	TrainNumber string       `json:"trainNumber,omitempty"`
	AutoTatkal  bool         `json:"autoTatkalEnabled"`
	Phone       string       `json:"phone,omitempty"`
	Email       string       `json:"email,omitempty"`
	Name        string       `json:"name,omitempty"`
	Age         string       `json:"age,omitempty"`
	Gender      string       `json:"gender,omitempty"`
	SeatPref    string       `json:"seatPref,omitempty"`
	Nationality string       `json:"nationality,omitempty"`
	Passengers  []Passenger  `json:"passengers,omitempty"`
	Credentials *Credentials `json:"credentials,omitempty"`
}

// draftAliases covers the field names older drafts were saved under.
type draftAliases struct {
	draftWire
	Age         flexString  `json:"age"`
	From        string      `json:"from"`
	To          string      `json:"to"`
	FromStation string      `json:"fromStation"`
	ToStation   string      `json:"toStation"`
	ClassType   string      `json:"classType"`
	AutoTatkal  *bool       `json:"autoTatkal"`
	Passenger   []Passenger `json:"passenger"`
}

func (d BookingDraft) MarshalJSON() ([]byte, error) {
	return json.Marshal(draftWire{
		ID:          d.ID,
		GroupID:     d.GroupID,
		Origin:      d.Origin,
		Destination: d.Destination,
		Date:        d.Date,
		TravelClass: d.TravelClass,
		Quota:       d.Quota,
		TrainNumber: d.TrainNumber,
		AutoTatkal:  d.AutoTatkal,
		Phone:       d.Phone,
		Email:       d.Email,
		Name:        d.Name,
		Age:         d.Age,
		Gender:      d.Gender,
		SeatPref:    d.SeatPref,
		Nationality: d.Nationality,
		Passengers:  d.Passengers,
		Credentials: d.Credentials,
	})
}

func (d *BookingDraft) UnmarshalJSON(data []byte) error {
	var aux draftAliases
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	w := aux.draftWire
	*d = BookingDraft{
		ID:          w.ID,
		GroupID:     w.GroupID,
		Origin:      firstNonEmpty(w.Origin, aux.From, aux.FromStation),
		Destination: firstNonEmpty(w.Destination, aux.To, aux.ToStation),
		Date:        w.Date,
		TravelClass: firstNonEmpty(w.TravelClass, aux.ClassType),
		Quota:       w.Quota,
		TrainNumber: w.TrainNumber,
		AutoTatkal:  w.AutoTatkal,
		Phone:       w.Phone,
		Email:       w.Email,
		Name:        w.Name,
		Age:         string(aux.Age),
		Gender:      w.Gender,
		SeatPref:    w.SeatPref,
		Nationality: w.Nationality,
		Passengers:  w.Passengers,
		Credentials: w.Credentials,
	}
	if aux.AutoTatkal != nil {
		d.AutoTatkal = d.AutoTatkal || *aux.AutoTatkal
	}
	if len(d.Passengers) == 0 && len(aux.Passenger) > 0 {
		d.Passengers = aux.Passenger
	}
	return nil
}

// Identifier returns the key the booking tab is opened with.
func (d *BookingDraft) Identifier() string {
	if d.Grouped() && d.GroupID != "" {
		return d.GroupID
	}
	return firstNonEmpty(d.ID, d.GroupID)
}

func (d *BookingDraft) MatchesIdentifier(id string) bool {
	if id == "" {
		return false
	}
	return d.ID == id || d.GroupID == id
}

// Grouped reports whether the draft carries its own passenger list.
func (d *BookingDraft) Grouped() bool {
	return len(d.Passengers) > 0
}

// PassengerList returns the passengers in both draft shapes.
func (d *BookingDraft) PassengerList() []Passenger {
	if d.Grouped() {
		out := make([]Passenger, len(d.Passengers))
		copy(out, d.Passengers)
		return out
	}
	if strings.TrimSpace(d.Name) == "" {
		return nil
	}
	return []Passenger{{
		ID:          d.ID,
		Name:        d.Name,
		Age:         d.Age,
		Gender:      d.Gender,
		SeatPref:    d.SeatPref,
		Nationality: d.Nationality,
	}}
}

func (d *BookingDraft) TravelDate() (time.Time, error) {
	return ParseTravelDate(d.Date)
}

// Validate checks the invariants the draft form enforced on submission.
func (d *BookingDraft) Validate() error {
	var problems []string
	if strings.TrimSpace(d.Origin) == "" {
		problems = append(problems, "origin is required")
	}
	if strings.TrimSpace(d.Destination) == "" {
		problems = append(problems, "destination is required")
	}
	if _, err := d.TravelDate(); err != nil {
		problems = append(problems, err.Error())
	}
	if strings.TrimSpace(d.TravelClass) == "" {
		problems = append(problems, "travel class is required")
	}
	if strings.TrimSpace(d.Quota) == "" {
		problems = append(problems, "quota is required")
	}

	passengers := d.PassengerList()
	switch {
	case len(passengers) == 0:
		problems = append(problems, "at least one passenger is required")
	case len(passengers) > MaxPassengers:
		problems = append(problems, fmt.Sprintf("at most %d passengers per booking, got %d", MaxPassengers, len(passengers)))
	}
	for i, p := range passengers {
		if strings.TrimSpace(p.Name) == "" {
			problems = append(problems, fmt.Sprintf("passenger %d has no name", i+1))
		}
	}

	if d.Grouped() && (d.Name != "" || d.Age != "") {
		problems = append(problems, "grouped draft must not carry hoisted passenger fields")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidDraft, strings.Join(problems, "; "))
	}
	return nil
}

// sameTrip mirrors the duplicate check of the draft form.
func (d *BookingDraft) sameTrip(other *BookingDraft) bool {
	a, b := d.PassengerList(), other.PassengerList()
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	return a[0].Name == b[0].Name &&
		d.Phone == other.Phone &&
		d.Date == other.Date &&
		strings.EqualFold(d.Origin, other.Origin) &&
		strings.EqualFold(d.Destination, other.Destination)
}

// FindDraft locates a draft by id or group id.
func FindDraft(drafts []BookingDraft, id string) (*BookingDraft, error) {
	for i := range drafts {
		if drafts[i].MatchesIdentifier(id) {
			d := drafts[i]
			return &d, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrDraftNotFound, id)
}

var classAliases = map[string]string{
	"SLEEPER":  "SL",
	"3AC":      "3A",
	"2AC":      "2A",
	"1AC":      "1A",
	"CHAIRCAR": "CC",
}

// ClassCode folds the class spellings drafts use into the host's short code.
func ClassCode(class string) string {
	code := strings.ToUpper(strings.Join(strings.Fields(class), ""))
	if alias, ok := classAliases[code]; ok {
		return alias
	}
	return code
}

// ClassLabels lists the labels a fare class may be shown under, most
// specific first: the draft's own spelling, then the host's full label.
func ClassLabels(class string, labels map[string]string) []string {
	out := []string{strings.TrimSpace(class)}
	code := ClassCode(class)
	if code != "" && !strings.EqualFold(code, out[0]) {
		out = append(out, code)
	}
	if full, ok := labels[code]; ok && !strings.EqualFold(full, out[0]) {
		out = append(out, full)
	}
	return out
}

// acClasses books in the AC Tatkal window; every other class, First Class
// included, books in the non-AC one.
var acClasses = map[string]bool{
	"1A": true, "2A": true, "3A": true, "3E": true,
	"CC": true, "EC": true, "EA": true, "EV": true,
}

var labelCode = regexp.MustCompile(`\(([0-9A-Z]+)\)$`)

// IsACClass reports whether the class books in the AC Tatkal window. Full
// host labels such as "AC 3 Tier (3A)" are judged by their trailing code.
func IsACClass(class string) bool {
	code := ClassCode(class)
	if m := labelCode.FindStringSubmatch(code); m != nil {
		code = m[1]
	}
	return acClasses[code]
}

type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*f = flexString(n.String())
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
