package storage

import "testing"

func TestDateFromKey(t *testing.T) {
	tests := []struct {
		key    string
		want   string
		wantOK bool
	}{
		{"usage_2024-03-01", "2024-03-01", true},
		{"report_2024-03-01", "2024-03-01", true},
		{"kidswatch:usage_2024-03-01", "2024-03-01", true},
		{"kidswatch:usage_2024-03-01:time", "", false},
		{"settings", "", false},
		{"usage_yesterday", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, ok := DateFromKey(tt.key)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("DateFromKey(%q) = %q, %v; want %q, %v", tt.key, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestBefore(t *testing.T) {
	if !Before("2024-01-01", "2024-01-02") {
		t.Error("expected 2024-01-01 before 2024-01-02")
	}
	if Before("2024-01-02", "2024-01-02") {
		t.Error("equal dates must not be before")
	}
	if Before("garbage", "2024-01-02") {
		t.Error("malformed date must not be before")
	}
}

func TestUsageRecordTotal(t *testing.T) {
	rec := UsageRecord{
		"a.com": {TimeMS: 1000, Visits: 1},
		"b.com": {TimeMS: 2500, Visits: 3},
	}
	if got := rec.TotalMS(); got != 3500 {
		t.Errorf("TotalMS() = %d, want 3500", got)
	}
}
