package phone

import "testing"

func TestIsValidE164(t *testing.T) {
	tests := []struct {
		name   string
		number string
		want   bool
	}{
		{"us number", "+15551234567", true},
		{"uk number", "+442071838750", true},
		{"short country code", "+12", true},
		{"max length 15 digits", "+123456789012345", true},
		{"missing plus", "15551234567", false},
		{"leading zero after plus", "+05551234567", false},
		{"too long 16 digits", "+1234567890123456", false},
		{"letters", "+1555CALLNOW", false},
		{"spaces", "+1 555 123 4567", false},
		{"dashes", "+1-555-123-4567", false},
		{"empty", "", false},
		{"plus only", "+", false},
		{"single digit", "+1", false},
		{"double plus", "++15551234567", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidE164(tt.number); got != tt.want {
				t.Errorf("IsValidE164(%q) = %v, want %v", tt.number, got, tt.want)
			}
		})
	}
}
