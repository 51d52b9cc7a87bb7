package phone

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		want   string
		wantOK bool
	}{
		{"already canonical", "+15551234567", "+15551234567", true},
		{"channel suffix", "15551234567@c.us", "+15551234567", true},
		{"group suffix", "4915112345678@g.us", "+4915112345678", true},
		{"punctuation", "+1 (555) 123-4567", "+15551234567", true},
		{"minimum length", "123456", "+123456", true},
		{"maximum length", "123456789012345", "+123456789012345", true},
		{"too short", "12345", "", false},
		{"too long", "1234567890123456", "", false},
		{"empty", "", "", false},
		{"letters only", "status@broadcast", "", false},
		{"digits after suffix ignored", "12@345678901", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Normalize(tt.raw)
			if ok != tt.wantOK {
				t.Fatalf("Normalize(%q) ok = %v, want %v", tt.raw, ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalize_IdentityOnCanonicalInput(t *testing.T) {
	for _, s := range []string{"+123456", "+15551234567", "+999999999999999", "+4420794600"} {
		if !Valid(s) {
			t.Fatalf("expected %q to be valid", s)
		}
		got, ok := Normalize(s)
		if !ok || got != s {
			t.Errorf("Normalize(%q) = %q, %v; want identity", s, got, ok)
		}
	}
}

func TestValid(t *testing.T) {
	invalid := []string{"", "+", "+12345", "15551234567", "+1555123456a", "+1234567890123456", " +15551234567"}
	for _, s := range invalid {
		if Valid(s) {
			t.Errorf("Valid(%q) = true, want false", s)
		}
	}
}

func TestMask(t *testing.T) {
	if got := Mask("+15551234567"); got != "********4567" {
		t.Errorf("Mask = %q", got)
	}
	if got := Mask("+12"); got != "****" {
		t.Errorf("Mask short = %q", got)
	}
}
