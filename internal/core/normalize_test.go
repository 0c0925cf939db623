package core

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SKU", "sku"},
		{"  Unit Price ($) ", "unit_price"},
		{"Cost-Price", "cost_price"},
		{"e-mail__address", "e_mail_address"},
		{"__Qty__", "qty"},
		{"Useful Life (Years)", "useful_life_years"},
		{"Café", "caf"},
		{"", ""},
		{"$$$", ""},
	}

	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{"  Unit Price ($) ", "Employee #", "A--B  C", "already_normal", "Δx 12"}
	for _, in := range inputs {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Errorf("Normalize not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}
