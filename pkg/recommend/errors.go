package recommend

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is fatal at startup.
	ErrConfiguration = errors.New("configuration error")
	// ErrStrategyUnavailable means a strategy's backend could not answer.
	ErrStrategyUnavailable = errors.New("strategy unavailable")
	// ErrNoSignal means a strategy's backend answered but found nothing. It is
	// a valid outcome, not a failure.
	ErrNoSignal = errors.New("no signal")
	// ErrRecommendationUnavailable means no ranked result can be produced for
	// the request because the system is degraded.
	ErrRecommendationUnavailable = errors.New("recommendation unavailable")
	ErrInvalidRequest            = errors.New("invalid request")
)

// StrategyError attributes a failure to one strategy. Kind is either
// ErrStrategyUnavailable or ErrNoSignal.
type StrategyError struct {
	Strategy Name
	Kind     error
	Err      error
}

func (e *StrategyError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Strategy, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Strategy, e.Kind, e.Err)
}

func (e *StrategyError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func unavailable(name Name, err error) error {
	return &StrategyError{Strategy: name, Kind: ErrStrategyUnavailable, Err: err}
}

func configErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
