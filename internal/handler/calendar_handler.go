package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/weekplanner/internal/calendar"
	"github.com/hitoshi/weekplanner/internal/middleware"
	"github.com/hitoshi/weekplanner/internal/model"
)

// maxWeekOffset は前後に移動できる週数の上限。
const maxWeekOffset = 520

// CalendarHandler は週キー・日キーを導出するHTTPハンドラー。
type CalendarHandler struct {
	now func() time.Time
}

// NewCalendarHandler はCalendarHandlerを生成する。
func NewCalendarHandler() *CalendarHandler {
	return &CalendarHandler{now: time.Now}
}

// calendarResponse は週の表示に必要なキーのレスポンス。
type calendarResponse struct {
	Today        string   `json:"today"`
	WeekKey      string   `json:"week_key"`
	WeekStart    string   `json:"week_start"`
	Days         []string `json:"days"`
	PrevWeekDate string   `json:"prev_week_date"`
	NextWeekDate string   `json:"next_week_date"`
}

// Week は基準日からoffset週移動した週のキーを返す。
// GET /api/calendar?date=YYYY-MM-DD&offset=n
func (h *CalendarHandler) Week(w http.ResponseWriter, r *http.Request) {
	today := calendar.DayKeyOf(h.now())

	base, err := calendar.ParseDayKey(today)
	if raw := r.URL.Query().Get("date"); raw != "" {
		base, err = calendar.ParseDayKey(raw)
		if err != nil {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidScopeKeyError(model.KindDay, raw))
			return
		}
	}
	if err != nil {
		handleServiceError(w, err)
		return
	}

	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < -maxWeekOffset || offset > maxWeekOffset {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
			return
		}
	}

	start := calendar.StartOfWeek(calendar.AddWeeks(base, offset))
	writeJSON(w, http.StatusOK, calendarResponse{
		Today:        today,
		WeekKey:      calendar.WeekKeyOf(start),
		WeekStart:    calendar.DayKeyOf(start),
		Days:         calendar.WeekDays(start),
		PrevWeekDate: calendar.DayKeyOf(calendar.AddWeeks(start, -1)),
		NextWeekDate: calendar.DayKeyOf(calendar.AddWeeks(start, 1)),
	})
}
