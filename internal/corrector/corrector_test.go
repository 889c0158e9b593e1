package corrector

import (
	"testing"

	"zapgate/internal/domain"
)

func TestCorrect_KnownCorruption(t *testing.T) {
	res := Correct("107223925702810")
	if res.Corrected != "556281242215" {
		t.Errorf("expected 556281242215, got %s", res.Corrected)
	}
	if res.Strategy != domain.CorrectionMapped {
		t.Errorf("expected mapped strategy, got %s", res.Strategy)
	}
}

func TestCorrect_KnownCorruptionWithSuffix(t *testing.T) {
	res := Correct("274293808169155@lid")
	if res.Corrected != "556299212484" {
		t.Errorf("expected 556299212484, got %s", res.Corrected)
	}
	if res.Raw != "274293808169155@lid" {
		t.Errorf("raw input must be preserved, got %s", res.Raw)
	}
}

func TestCorrect_Deterministic(t *testing.T) {
	inputs := []string{
		"107223925702810",
		"120363556299212484@lid",
		"6281242215",
		"not-a-number@broken",
	}
	for _, in := range inputs {
		first := Correct(in)
		second := Correct(in)
		if first != second {
			t.Errorf("Correct(%q) not deterministic: %+v vs %+v", in, first, second)
		}
	}
}

func TestCorrect_EmbeddedNumber(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"120363556299212484", "556299212484"},
		{"556281242215@s.whatsapp.net", "556281242215"},
		{"0005562981242215000", "5562981242215"},
	}
	for _, tt := range tests {
		res := Correct(tt.in)
		if res.Corrected != tt.want {
			t.Errorf("Correct(%q) = %q, want %q", tt.in, res.Corrected, tt.want)
		}
		if res.Strategy != domain.CorrectionEmbedded {
			t.Errorf("Correct(%q) strategy = %s, want embedded", tt.in, res.Strategy)
		}
	}
}

func TestCorrect_LocalFormat(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"6233334444", "556233334444"},   // landline: area + 8 digits
		{"62981242215", "5562981242215"}, // mobile: area + 9 digits
	}
	for _, tt := range tests {
		res := Correct(tt.in)
		if res.Corrected != tt.want {
			t.Errorf("Correct(%q) = %q, want %q", tt.in, res.Corrected, tt.want)
		}
		if res.Strategy != domain.CorrectionLocal {
			t.Errorf("Correct(%q) strategy = %s, want local", tt.in, res.Strategy)
		}
	}
}

func TestCorrect_Uncorrectable(t *testing.T) {
	tests := []string{
		"12345",
		"99999999999999999999",
		"",
	}
	for _, in := range tests {
		res := Correct(in)
		if res.Repaired() {
			t.Errorf("Correct(%q) should be uncorrected, got strategy %s", in, res.Strategy)
		}
		if res.Corrected != in {
			t.Errorf("uncorrectable token must pass through unmodified: %q -> %q", in, res.Corrected)
		}
	}
}

func TestCorrect_NonNumericPassesThrough(t *testing.T) {
	res := Correct("broken-token@g.us")
	if res.Strategy != domain.CorrectionNone {
		t.Errorf("expected uncorrected, got %s", res.Strategy)
	}
	if res.Corrected != "broken-token" {
		t.Errorf("expected suffix stripped, got %s", res.Corrected)
	}
}
