package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestCalendarHandler() *CalendarHandler {
	h := NewCalendarHandler()
	// 2025-11-14（金）に固定する
	h.now = func() time.Time { return time.Date(2025, 11, 14, 15, 30, 0, 0, time.UTC) }
	return h
}

func TestCalendarHandler_Week(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantWeek  string
		wantStart string
		wantPrev  string
		wantNext  string
	}{
		{
			name:      "defaults to current week",
			query:     "",
			wantWeek:  "2025-W46",
			wantStart: "2025-11-10",
			wantPrev:  "2025-11-03",
			wantNext:  "2025-11-17",
		},
		{
			name:      "next week via offset",
			query:     "?offset=1",
			wantWeek:  "2025-W47",
			wantStart: "2025-11-17",
			wantPrev:  "2025-11-10",
			wantNext:  "2025-11-24",
		},
		{
			name:      "explicit date on sunday stays in the same week",
			query:     "?date=2025-11-16",
			wantWeek:  "2025-W46",
			wantStart: "2025-11-10",
			wantPrev:  "2025-11-03",
			wantNext:  "2025-11-17",
		},
		{
			name:      "year boundary belongs to week 1",
			query:     "?date=2024-12-30",
			wantWeek:  "2025-W1",
			wantStart: "2024-12-30",
			wantPrev:  "2024-12-23",
			wantNext:  "2025-01-06",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestCalendarHandler()

			req := httptest.NewRequest(http.MethodGet, "/api/calendar"+tt.query, nil)
			w := httptest.NewRecorder()

			h.Week(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
			}

			var got calendarResponse
			if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if got.Today != "2025-11-14" {
				t.Errorf("today = %q, want %q", got.Today, "2025-11-14")
			}
			if got.WeekKey != tt.wantWeek {
				t.Errorf("week_key = %q, want %q", got.WeekKey, tt.wantWeek)
			}
			if got.WeekStart != tt.wantStart {
				t.Errorf("week_start = %q, want %q", got.WeekStart, tt.wantStart)
			}
			if got.PrevWeekDate != tt.wantPrev {
				t.Errorf("prev_week_date = %q, want %q", got.PrevWeekDate, tt.wantPrev)
			}
			if got.NextWeekDate != tt.wantNext {
				t.Errorf("next_week_date = %q, want %q", got.NextWeekDate, tt.wantNext)
			}
			if len(got.Days) != 7 {
				t.Fatalf("len(days) = %d, want 7", len(got.Days))
			}
			if got.Days[0] != tt.wantStart {
				t.Errorf("days[0] = %q, want %q", got.Days[0], tt.wantStart)
			}
		})
	}
}

func TestCalendarHandler_Week_InvalidInput_Returns400(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"malformed date", "?date=2025/11/14"},
		{"impossible date", "?date=2025-02-30"},
		{"non-numeric offset", "?offset=next"},
		{"offset out of range", "?offset=9999"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestCalendarHandler()

			req := httptest.NewRequest(http.MethodGet, "/api/calendar"+tt.query, nil)
			w := httptest.NewRecorder()

			h.Week(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}
