package main

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestDraftUnmarshalAliases(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  BookingDraft
	}{
		{
			name:  "Canonical single draft",
			input: `{"id":"a1","origin":"Delhi","destination":"Mumbai","date":"2025-06-12","travelClass":"3A","quota":"General","name":"Asha","age":"30","gender":"Female","seatPref":"Lower"}`,
			want: BookingDraft{ID: "a1", Origin: "Delhi", Destination: "Mumbai", Date: "2025-06-12", TravelClass: "3A",
				Quota: "General", Name: "Asha", Age: "30", Gender: "Female", SeatPref: "Lower"},
		},
		{
			name:  "Legacy from/to and numeric age",
			input: `{"id":"a2","from":"Pune","to":"Goa","date":"2025-07-01","classType":"SL","quota":"Tatkal","name":"Ravi","age":41,"autoTatkal":true}`,
			want: BookingDraft{ID: "a2", Origin: "Pune", Destination: "Goa", Date: "2025-07-01", TravelClass: "SL",
				Quota: "Tatkal", Name: "Ravi", Age: "41", AutoTatkal: true},
		},
		{
			name:  "Station aliases",
			input: `{"id":"a3","fromStation":"Howrah","toStation":"Patna","date":"2025-07-02","travelClass":"2A","quota":"General","name":"Mita"}`,
			want: BookingDraft{ID: "a3", Origin: "Howrah", Destination: "Patna", Date: "2025-07-02", TravelClass: "2A",
				Quota: "General", Name: "Mita"},
		},
		{
			name:  "Grouped draft with legacy passenger key",
			input: `{"groupId":"g1","origin":"Delhi","destination":"Agra","date":"2025-08-01","travelClass":"CC","quota":"General","passenger":[{"name":"A","age":7,"gender":"Male"}]}`,
			want: BookingDraft{GroupID: "g1", Origin: "Delhi", Destination: "Agra", Date: "2025-08-01", TravelClass: "CC",
				Quota: "General", Passengers: []Passenger{{Name: "A", Age: "7", Gender: "Male"}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got BookingDraft
			if err := json.Unmarshal([]byte(tt.input), &got); err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Unmarshal mismatch:\n got  %+v\n want %+v", got, tt.want)
			}
		})
	}
}

func TestDraftMarshalUsesCanonicalKeys(t *testing.T) {
	data, err := json.Marshal(BookingDraft{ID: "a1", Origin: "Delhi", Destination: "Mumbai", Age: "30"})
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	if !strings.Contains(s, `"origin":"Delhi"`) || !strings.Contains(s, `"age":"30"`) {
		t.Errorf("Expected canonical keys, got %s", s)
	}
	if strings.Contains(s, `"from"`) || strings.Contains(s, `"passengers"`) {
		t.Errorf("Unexpected legacy or empty keys in %s", s)
	}
}

func TestPassengerAgeRejectsObjects(t *testing.T) {
	var p Passenger
	if err := json.Unmarshal([]byte(`{"name":"X","age":{"years":3}}`), &p); err == nil {
		t.Error("Expected error for non-scalar age")
	}
}

func TestFindDraft(t *testing.T) {
	drafts := []BookingDraft{
		{ID: "a1", Name: "Asha"},
		{GroupID: "g1", Passengers: []Passenger{{ID: "p1", Name: "Ravi"}}},
	}

	tests := []struct {
		id      string
		want    string
		wantErr bool
	}{
		{"a1", "a1", false},
		{"g1", "g1", false},
		{"p1", "", true},
		{"", "", true},
		{"zz", "", true},
	}

	for _, tt := range tests {
		got, err := FindDraft(drafts, tt.id)
		if tt.wantErr {
			if !errors.Is(err, ErrDraftNotFound) {
				t.Errorf("FindDraft(%q) expected ErrDraftNotFound, got %v", tt.id, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("FindDraft(%q) unexpected error: %v", tt.id, err)
			continue
		}
		if got.Identifier() != tt.want {
			t.Errorf("FindDraft(%q) = %s, want %s", tt.id, got.Identifier(), tt.want)
		}
	}
}

func TestPassengerList(t *testing.T) {
	single := BookingDraft{ID: "a1", Name: "Asha", Age: "30", Gender: "Female", SeatPref: "Lower"}
	got := single.PassengerList()
	want := []Passenger{{ID: "a1", Name: "Asha", Age: "30", Gender: "Female", SeatPref: "Lower"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Single draft passengers = %+v, want %+v", got, want)
	}
	if single.Grouped() {
		t.Error("Single draft should not be grouped")
	}

	grouped := BookingDraft{GroupID: "g1", Passengers: []Passenger{{Name: "A"}, {Name: "B"}}}
	list := grouped.PassengerList()
	if len(list) != 2 || !grouped.Grouped() {
		t.Fatalf("Expected two grouped passengers, got %+v", list)
	}
	list[0].Name = "changed"
	if grouped.Passengers[0].Name != "A" {
		t.Error("PassengerList must return a copy")
	}

	if (&BookingDraft{ID: "e"}).PassengerList() != nil {
		t.Error("Draft without a name should have no passengers")
	}
}

func TestValidate(t *testing.T) {
	valid := func() BookingDraft {
		return BookingDraft{Origin: "Delhi", Destination: "Mumbai", Date: "2025-06-12", TravelClass: "3A", Quota: "General", Name: "Asha"}
	}

	tests := []struct {
		name    string
		mutate  func(d *BookingDraft)
		wantErr string
	}{
		{"Valid single", func(d *BookingDraft) {}, ""},
		{"Missing origin", func(d *BookingDraft) { d.Origin = " " }, "origin is required"},
		{"Bad date", func(d *BookingDraft) { d.Date = "12/06/2025" }, "invalid"},
		{"No passengers", func(d *BookingDraft) { d.Name = "" }, "at least one passenger"},
		{"Too many", func(d *BookingDraft) {
			d.Name = ""
			d.Passengers = []Passenger{{Name: "1"}, {Name: "2"}, {Name: "3"}, {Name: "4"}, {Name: "5"}}
		}, "at most 4"},
		{"Grouped with hoisted fields", func(d *BookingDraft) {
			d.Passengers = []Passenger{{Name: "1"}}
		}, "hoisted"},
		{"Unnamed grouped passenger", func(d *BookingDraft) {
			d.Name = ""
			d.Passengers = []Passenger{{Name: "1"}, {Age: "3"}}
		}, "passenger 2 has no name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid()
			tt.mutate(&d)
			err := d.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidDraft) {
				t.Fatalf("Expected ErrInvalidDraft, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestClassCode(t *testing.T) {
	tests := map[string]string{
		"3A":        "3A",
		"3ac":       "3A",
		"Sleeper":   "SL",
		" sl ":      "SL",
		"Chair Car": "CC",
		"2S":        "2S",
	}
	for input, want := range tests {
		if got := ClassCode(input); got != want {
			t.Errorf("ClassCode(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestClassLabels(t *testing.T) {
	labels := DefaultConfig().ClassLabels

	tests := []struct {
		class string
		want  []string
	}{
		{"3A", []string{"3A", "AC 3 Tier (3A)"}},
		{"Sleeper", []string{"Sleeper", "SL", "Sleeper (SL)"}},
		{"AC 3 Tier (3A)", []string{"AC 3 Tier (3A)", "AC3TIER(3A)"}},
		{"XX", []string{"XX"}},
	}
	for _, tt := range tests {
		if got := ClassLabels(tt.class, labels); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ClassLabels(%q) = %q, want %q", tt.class, got, tt.want)
		}
	}
}

func TestIsACClass(t *testing.T) {
	tests := map[string]bool{
		"3A":             true,
		"2A":             true,
		"CC":             true,
		"SL":             false,
		"Sleeper":        false,
		"2S":             false,
		"FC":             false,
		"First Class":    false,
		"1A":             true,
		"3E":             true,
		"AC 3 Tier (3A)": true,
		"Sleeper (SL)":   false,
		"":               false,
	}
	for class, want := range tests {
		if got := IsACClass(class); got != want {
			t.Errorf("IsACClass(%q) = %v, want %v", class, got, want)
		}
	}
}
