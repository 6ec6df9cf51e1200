package factory

import (
	"fmt"

	"github.com/mailsentry/mailsentry/internal/config"
	"github.com/mailsentry/mailsentry/internal/scheduler"
)

// SchedulerConfig builds the scheduler timing configuration
func SchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	var (
		sc  scheduler.Config
		err error
	)

	if sc.MutationDebounce, err = cfg.GetDuration("scheduler.mutation_debounce"); err != nil {
		return sc, fmt.Errorf("invalid mutation debounce: %w", err)
	}
	if sc.ScrollDebounce, err = cfg.GetDuration("scheduler.scroll_debounce"); err != nil {
		return sc, fmt.Errorf("invalid scroll debounce: %w", err)
	}
	if sc.FocusDebounce, err = cfg.GetDuration("scheduler.focus_debounce"); err != nil {
		return sc, fmt.Errorf("invalid focus debounce: %w", err)
	}
	if sc.HashDebounce, err = cfg.GetDuration("scheduler.hash_debounce"); err != nil {
		return sc, fmt.Errorf("invalid hash debounce: %w", err)
	}
	if sc.OpenDebounce, err = cfg.GetDuration("scheduler.open_debounce"); err != nil {
		return sc, fmt.Errorf("invalid open debounce: %w", err)
	}
	if sc.TickInterval, err = cfg.GetDuration("scheduler.tick_interval"); err != nil {
		return sc, fmt.Errorf("invalid tick interval: %w", err)
	}
	sc.MaxPassesPerSec = cfg.GetFloat64("scheduler.max_passes_per_sec")

	return sc, nil
}
