package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/fluxbase-eu/fluxpack/internal/extract"
	"github.com/fluxbase-eu/fluxpack/internal/handlers"
)

// ErrInvalidSchedule is reported for a schedule handler whose cron expression does not parse
var ErrInvalidSchedule = errors.New("invalid schedule expression")

// scheduleKeys are the config properties read as schedule expressions
var scheduleKeys = []string{"schedule", "cron"}

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// CheckSchedule validates a cron expression with optional seconds, or a descriptor such as
// @hourly or @every 5m. Provider-native rate(...) and cron(...) expressions are not checked.
func CheckSchedule(expr string) error {
	expr = strings.TrimSpace(expr)
	if strings.HasPrefix(expr, "rate(") || strings.HasPrefix(expr, "cron(") {
		return nil
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidSchedule, expr, err)
	}
	return nil
}

// checkSchedules validates the literal schedule expressions of a schedule descriptor
func checkSchedules(d extract.Descriptor) error {
	if d.Kind != handlers.KindSchedule {
		return nil
	}
	for _, key := range scheduleKeys {
		expr, ok := d.Config[key].(string)
		if !ok {
			continue
		}
		if err := CheckSchedule(expr); err != nil {
			return fmt.Errorf("export %s: %w", d.ExportName, err)
		}
	}
	return nil
}
