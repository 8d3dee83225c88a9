package catalog

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule returns the next refresh time after t. cron.Schedule satisfies it.
type Schedule interface {
	Next(time.Time) time.Time
}

// ParseSchedule parses a refresh schedule.
// Supports:
//   - Cron expressions: "0 */15 * * * *" (6-field) or "*/15 * * * *" (5-field)
//   - Descriptors: "@hourly", "@every 1h"
//   - Go duration strings: "15m", "2h", "1h30m"
func ParseSchedule(spec string) (Schedule, error) {
	if spec == "" {
		return nil, fmt.Errorf("schedule string is empty")
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser.Parse(spec)
	if err == nil {
		return sched, nil
	}

	duration, err := time.ParseDuration(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schedule as cron expression or duration: %w", err)
	}
	if duration <= 0 {
		return nil, fmt.Errorf("schedule duration must be positive, got %s", duration)
	}

	return cron.ConstantDelaySchedule{Delay: duration}, nil
}
