package scheduler

import "errors"

var (
	// ErrScheduleNotFound is returned when a schedule does not exist.
	ErrScheduleNotFound = errors.New("scheduler: schedule not found")

	// ErrScenarioNotFound is returned when a schedule references an
	// unknown scenario.
	ErrScenarioNotFound = errors.New("scheduler: scenario not found")

	// ErrInvalidCronExpression is returned when a cron frequency carries an
	// expression the parser rejects.
	ErrInvalidCronExpression = errors.New("scheduler: invalid cron expression")

	// ErrInvalidFrequency is returned for an unknown frequency value.
	ErrInvalidFrequency = errors.New("scheduler: invalid frequency")

	// ErrScheduleDisabled is returned when resuming a schedule that has run
	// out (one-shot schedules disable themselves after firing).
	ErrScheduleDisabled = errors.New("scheduler: schedule disabled")
)
