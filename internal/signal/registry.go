package signal

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"quant_go/internal/domain"
)

// Constructor builds an evaluator for a strategy from the parameters
// embedded in its strategy code.
type Constructor func(s *domain.Strategy, params []string) (domain.SignalEvaluator, error)

// Registry resolves strategy codes to evaluator instances. A code is
// the evaluator name optionally followed by colon-separated parameters,
// e.g. "SMA_CROSS:5:20" or "MOMENTUM:10:2.5". Registration is safe for
// concurrent use with resolution.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry creates a registry with the built-in evaluators
// registered.
func NewRegistry() *Registry {
	r := &Registry{ctors: make(map[string]Constructor)}
	r.Register("SMA_CROSS", newSMACrossFromParams)
	r.Register("MOMENTUM", newMomentumFromParams)
	return r
}

// Register installs a constructor under the given name, replacing any
// existing registration.
func (r *Registry) Register(name string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[strings.ToUpper(name)] = ctor
}

// Build resolves the strategy's code and constructs its evaluator.
// It satisfies engine.EvaluatorFactory.
func (r *Registry) Build(s *domain.Strategy) (domain.SignalEvaluator, error) {
	parts := strings.Split(s.StrategyCode, ":")
	name := strings.ToUpper(strings.TrimSpace(parts[0]))

	r.mu.RLock()
	ctor, ok := r.ctors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown strategy code %q: %w", s.StrategyCode, domain.ErrStrategyNotFound)
	}
	return ctor(s, parts[1:])
}

// Names returns the registered evaluator names, for listing endpoints.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ctors))
	for name := range r.ctors {
		names = append(names, name)
	}
	return names
}

func newSMACrossFromParams(s *domain.Strategy, params []string) (domain.SignalEvaluator, error) {
	short, long := 5, 20
	if len(params) >= 2 {
		var err error
		if short, err = strconv.Atoi(params[0]); err != nil {
			return nil, fmt.Errorf("SMA_CROSS: bad short period %q: %w", params[0], err)
		}
		if long, err = strconv.Atoi(params[1]); err != nil {
			return nil, fmt.Errorf("SMA_CROSS: bad long period %q: %w", params[1], err)
		}
	}
	if short <= 0 || short >= long {
		return nil, fmt.Errorf("SMA_CROSS: invalid periods %d/%d", short, long)
	}
	return NewSMACross(s.Symbol, short, long), nil
}

func newMomentumFromParams(s *domain.Strategy, params []string) (domain.SignalEvaluator, error) {
	lookback := 10
	threshold := decimal.NewFromInt(2)
	if len(params) >= 1 {
		n, err := strconv.Atoi(params[0])
		if err != nil {
			return nil, fmt.Errorf("MOMENTUM: bad lookback %q: %w", params[0], err)
		}
		lookback = n
	}
	if len(params) >= 2 {
		d, err := decimal.NewFromString(params[1])
		if err != nil {
			return nil, fmt.Errorf("MOMENTUM: bad threshold %q: %w", params[1], err)
		}
		threshold = d
	}
	if lookback <= 0 || !threshold.IsPositive() {
		return nil, fmt.Errorf("MOMENTUM: invalid parameters %d/%s", lookback, threshold)
	}
	return NewMomentum(s.Symbol, lookback, threshold), nil
}
