package pricing

import "testing"

func TestCostCents(t *testing.T) {
	calc := NewCalculator(7.3)

	tests := []struct {
		name    string
		seconds int
		want    int
	}{
		{"zero duration", 0, 0},
		{"negative duration", -5, 0},
		{"half minute ceils to one", 30, 7},
		{"exactly one minute", 60, 7},
		{"just over one minute ceils to two", 61, 15},
		{"ninety seconds ceils to two", 90, 15},
		{"exactly two minutes", 120, 15},
		{"ten minutes", 600, 73},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := calc.CostCents(tt.seconds); got != tt.want {
				t.Errorf("CostCents(%d) = %d, want %d", tt.seconds, got, tt.want)
			}
		})
	}
}

func TestCostCentsPartialMinutesEqual(t *testing.T) {
	calc := NewCalculator(7.3)

	// 61s, 90s and 120s all ceil to two minutes.
	if a, b := calc.CostCents(61), calc.CostCents(90); a != b {
		t.Errorf("CostCents(61)=%d != CostCents(90)=%d", a, b)
	}
	if a, b := calc.CostCents(61), calc.CostCents(120); a != b {
		t.Errorf("CostCents(61)=%d != CostCents(120)=%d", a, b)
	}
}

func TestCostCentsMonotonic(t *testing.T) {
	calc := NewCalculator(7.3)

	prev := 0
	for d := 0; d <= 600; d += 7 {
		cost := calc.CostCents(d)
		if cost < prev {
			t.Fatalf("cost not monotonic: CostCents(%d)=%d < previous %d", d, cost, prev)
		}
		prev = cost
	}
}

func TestNewCalculatorDefaultRate(t *testing.T) {
	calc := NewCalculator(0)
	if calc.RateCentsPerMinute() != DefaultRateCentsPerMinute {
		t.Errorf("expected default rate %v, got %v", DefaultRateCentsPerMinute, calc.RateCentsPerMinute())
	}
}
