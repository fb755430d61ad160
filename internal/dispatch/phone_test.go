package dispatch

import "testing"

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		countryCode string
		want        string
	}{
		{"already international", "+919876543210", "+91", "+919876543210"},
		{"international with punctuation", "+91 98765-43210", "+91", "+919876543210"},
		{"bare national number", "9876543210", "+91", "+919876543210"},
		{"national with spaces", "98765 43210", "+91", "+919876543210"},
		{"trunk zero", "09876543210", "+91", "+919876543210"},
		{"custom country code", "5551234567", "+1", "+15551234567"},
		{"empty defaults applied", "9876543210", "", "+919876543210"},
		{"odd length passthrough", "12345", "+91", "+12345"},
		{"empty input", "", "+91", ""},
		{"whitespace only", "   ", "+91", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizePhone(tt.raw, tt.countryCode); got != tt.want {
				t.Errorf("NormalizePhone(%q, %q) = %q, want %q", tt.raw, tt.countryCode, got, tt.want)
			}
		})
	}
}
