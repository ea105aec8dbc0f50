package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/breachline/breachline/internal/model"
)

// cronParser accepts standard 5-field expressions (minute hour dom month dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateCron checks a cron expression against the 5-field parser.
func ValidateCron(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidCronExpression, expr, err)
	}
	return nil
}

// NextRun computes the next firing instant strictly after the given time.
// One-shot schedules have no next run once fired, so FrequencyOnce returns
// the zero time.
func NextRun(freq model.ScheduleFrequency, cronExpr string, after time.Time) (time.Time, error) {
	switch freq {
	case model.FrequencyOnce:
		return time.Time{}, nil
	case model.FrequencyHourly:
		return after.Add(time.Hour), nil
	case model.FrequencyDaily:
		return after.AddDate(0, 0, 1), nil
	case model.FrequencyWeekly:
		return after.AddDate(0, 0, 7), nil
	case model.FrequencyMonthly:
		return after.AddDate(0, 1, 0), nil
	case model.FrequencyCron:
		sched, err := cronParser.Parse(cronExpr)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q: %v", ErrInvalidCronExpression, cronExpr, err)
		}
		return sched.Next(after), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidFrequency, freq)
	}
}
