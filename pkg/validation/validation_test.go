package validation

import "testing"

func TestValidateEmail(t *testing.T) {
	cases := map[string]bool{
		"rider@example.com": true,
		"":                  false,
		"not-an-email":      false,
		"  a@b.io  ":        true,
	}
	for in, want := range cases {
		if got := ValidateEmail(in); got != want {
			t.Errorf("ValidateEmail(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestValidateCoordinates(t *testing.T) {
	if !ValidateCoordinates(1.0, 1.0) {
		t.Error("expected (1,1) to be valid")
	}
	if ValidateCoordinates(91, 0) || ValidateCoordinates(0, -181) {
		t.Error("expected out-of-range coordinates to be rejected")
	}
}

func TestValidateOrderID(t *testing.T) {
	if ValidateOrderID("") || ValidateOrderID("  ") || ValidateOrderID("7/../8") {
		t.Error("expected invalid order ids to be rejected")
	}
	if !ValidateOrderID("7") {
		t.Error("expected 7 to be valid")
	}
}
