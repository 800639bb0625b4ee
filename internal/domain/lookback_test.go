package domain

import (
	"testing"
	"time"
)

func TestParseLookback(t *testing.T) {
	tests := []struct {
		in      string
		want    Lookback
		wantErr bool
	}{
		{in: "1y", want: Lookback{N: 1, Unit: LookbackYears}},
		{in: "90d", want: Lookback{N: 90, Unit: LookbackDays}},
		{in: " 2Y ", want: Lookback{N: 2, Unit: LookbackYears}},
		{in: "", wantErr: true},
		{in: "y", wantErr: true},
		{in: "0d", wantErr: true},
		{in: "-3d", wantErr: true},
		{in: "12m", wantErr: true},
		{in: "1.5y", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLookback(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error for %q, got %+v", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLookback(%q) failed: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestLookback_Before(t *testing.T) {
	today := MustDate("2024-03-15")

	if got := MustLookback("1y").Before(today); FormatDate(got) != "2023-03-15" {
		t.Errorf("1y: expected 2023-03-15, got %s", FormatDate(got))
	}
	if got := MustLookback("90d").Before(today); FormatDate(got) != "2023-12-16" {
		t.Errorf("90d: expected 2023-12-16, got %s", FormatDate(got))
	}

	// time of day on today is ignored
	noon := time.Date(2024, 3, 15, 12, 30, 0, 0, time.UTC)
	if got := MustLookback("1d").Before(noon); FormatDate(got) != "2024-03-14" || !IsDate(got) {
		t.Errorf("expected normalized 2024-03-14, got %v", got)
	}

	if MustLookback("90d").String() != "90d" {
		t.Errorf("String mismatch")
	}
}
