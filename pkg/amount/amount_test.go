package amount

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseCents(t *testing.T) {
	cases := []struct {
		in   string
		want Cents
	}{
		{"0.10", 10},
		{"0.1", 10},
		{"12", 1200},
		{"3.05", 305},
	}
	for _, tc := range cases {
		got, err := ParseCents(tc.in)
		if err != nil {
			t.Fatalf("ParseCents(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("ParseCents(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestParseCentsRejectsSubCent(t *testing.T) {
	if _, err := ParseCents("0.105"); !errors.Is(err, ErrTooPrecise) {
		t.Fatalf("expected ErrTooPrecise, got %v", err)
	}
}

func TestRepeatedShareHasNoDrift(t *testing.T) {
	share, err := ParseCents("0.10")
	if err != nil {
		t.Fatal(err)
	}
	var total Cents
	for i := 0; i < 1000; i++ {
		total += share
	}
	if total.String() != "100.00" {
		t.Fatalf("expected 100.00 after 1000 shares, got %s", total)
	}
}

func TestCreditsJSON(t *testing.T) {
	c := WholeCredits(6) - WholeCredits(5)
	blob, err := json.Marshal(map[string]Credits{"balance": c})
	if err != nil {
		t.Fatal(err)
	}
	if string(blob) != `{"balance":1.00}` {
		t.Fatalf("unexpected json %s", blob)
	}

	var back struct {
		Balance Credits `json:"balance"`
	}
	if err := json.Unmarshal([]byte(`{"balance":"2.5"}`), &back); err != nil {
		t.Fatal(err)
	}
	if back.Balance != 250 {
		t.Fatalf("expected 250, got %d", back.Balance)
	}
}
