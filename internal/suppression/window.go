package suppression

import (
	"fmt"
	"strings"
	"time"

	"telenotify/internal/config"
	"telenotify/pkg/cel"
	"telenotify/pkg/errors"
)

// Window is a parsed do-not-disturb interval. Dates are inclusive calendar days and times
// are minutes after midnight in the window's location. A window whose start time is later
// than its end time crosses midnight.
type Window struct {
	OriginID string
	Type     string

	startMinute int
	endMinute   int
	startDate   int // yyyymmdd
	endDate     int // yyyymmdd
	weekdays    map[time.Weekday]bool
	location    *time.Location
	match       *cel.Filter
}

// ParseWindow validates cfg and builds a Window. evaluator may be nil when cfg has no
// match expression. Windows without a timezone are evaluated in UTC.
func ParseWindow(cfg config.SuppressionWindowConfig, evaluator *cel.Evaluator) (Window, error) {
	if err := config.ValidateSuppression([]config.SuppressionWindowConfig{cfg}); err != nil {
		return Window{}, errors.ErrValidation.WithCause(err)
	}

	w := Window{
		OriginID: cfg.OriginID,
		Type:     cfg.Type,
		location: time.UTC,
	}

	// Layouts were checked by ValidateSuppression above.
	start, _ := time.Parse(config.TimeOfDayLayout, cfg.StartTime)
	end, _ := time.Parse(config.TimeOfDayLayout, cfg.EndTime)
	w.startMinute = start.Hour()*60 + start.Minute()
	w.endMinute = end.Hour()*60 + end.Minute()

	startDate, _ := time.Parse(config.DateLayout, cfg.StartDate)
	endDate, _ := time.Parse(config.DateLayout, cfg.EndDate)
	w.startDate = dateKey(startDate)
	w.endDate = dateKey(endDate)

	if cfg.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return Window{}, errors.ErrValidation.WithCause(err)
		}
		w.location = loc
	}

	if len(cfg.Weekdays) > 0 {
		w.weekdays = make(map[time.Weekday]bool, len(cfg.Weekdays))
		for _, day := range cfg.Weekdays {
			d, _ := config.ParseWeekday(day)
			w.weekdays[d] = true
		}
	}

	if strings.TrimSpace(cfg.Match) != "" {
		if evaluator == nil {
			return Window{}, errors.ErrValidation.WithMessage("window for %s has a match expression but no evaluator", cfg.OriginID)
		}
		f, err := evaluator.CompileFilter(cfg.Match)
		if err != nil {
			return Window{}, errors.ErrValidation.WithCause(err).WithMessage("invalid match expression for %s", cfg.OriginID)
		}
		w.match = f
	}

	return w, nil
}

// CurrentDateTimeIsInInterval reports whether instant lies inside w. The date range is
// checked first and the time of day only when the date matches. Times compare at minute
// resolution, so an end time of 05:00 covers 05:00:59, and a window whose start equals its
// end covers exactly that minute.
func CurrentDateTimeIsInInterval(w Window, instant time.Time) bool {
	loc := w.location
	if loc == nil {
		loc = time.UTC
	}
	local := instant.In(loc)

	day := dateKey(local)
	if day < w.startDate || day > w.endDate {
		return false
	}

	if w.weekdays != nil && !w.weekdays[local.Weekday()] {
		return false
	}

	t := local.Hour()*60 + local.Minute()
	if w.startMinute <= w.endMinute {
		return w.startMinute <= t && t <= w.endMinute
	}
	return t >= w.startMinute || t <= w.endMinute
}

func dateKey(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}

func (w Window) String() string {
	return fmt.Sprintf("%s %02d:%02d-%02d:%02d %d..%d",
		w.Type, w.startMinute/60, w.startMinute%60, w.endMinute/60, w.endMinute%60, w.startDate, w.endDate)
}
