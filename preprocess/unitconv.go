package preprocess

import (
	"log/slog"
	"sync"

	"github.com/Audace-Sailing-Team/mothics/comms"
)

// Rule describes one conversion: where converted samples go and how the
// value changes. A Dest equal to the source topic (or empty) overwrites
// samples in place; any other Dest appends converted copies to that topic.
type Rule struct {
	Dest    string
	Convert func(float64) float64
}

// UnitConversion converts numerical samples as they pass through the
// chain. Rules are keyed by full topic address or by bare quantity name;
// a full-topic rule wins when both match.
type UnitConversion struct {
	name   string
	logger *slog.Logger

	mu    sync.Mutex
	rules map[string]Rule
}

var _ comms.Processor = (*UnitConversion)(nil)

// NewUnitConversion creates a conversion processor from its rule set.
func NewUnitConversion(rules map[string]Rule, logger *slog.Logger) *UnitConversion {
	if logger == nil {
		logger = slog.Default().With("component", "preprocess", "processor", "unit-conversion")
	}
	if rules == nil {
		rules = make(map[string]Rule)
	}
	return &UnitConversion{
		name:   "unit_conversion",
		logger: logger,
		rules:  rules,
	}
}

// Name returns the processor identifier used in chain registration.
func (u *UnitConversion) Name() string { return u.name }

// Apply converts every numeric sample of every ruled topic. The view it
// receives is rebuilt from raw buffered samples on each read, so converting
// the whole view keeps repeated reads consistent. Samples whose value is
// not numeric are left untouched.
func (u *UnitConversion) Apply(data comms.RawData) comms.RawData {
	u.mu.Lock()
	defer u.mu.Unlock()

	for topic, samples := range data {
		rule, ok := u.rules[topic]
		if !ok {
			rule, ok = u.rules[comms.Quantity(topic)]
		}
		if !ok {
			continue
		}

		if rule.Dest == "" || rule.Dest == topic {
			for i := range samples {
				if v, ok := toFloat(samples[i].Value); ok {
					samples[i].Value = rule.Convert(v)
				}
			}
			continue
		}

		dest := data[rule.Dest]
		for _, s := range samples {
			converted := s.Value
			if v, ok := toFloat(s.Value); ok {
				converted = rule.Convert(v)
			}
			dest = append(dest, comms.Sample{Timestamp: s.Timestamp, Value: converted})
		}
		data[rule.Dest] = dest
	}

	return data
}

// toFloat extracts a float64 from the numeric types a sample can carry.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
