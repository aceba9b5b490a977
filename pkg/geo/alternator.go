package geo

import "sync"

// Domestic office coordinates used by the fallback paths.
var (
	AstanaPoint = Point{Lat: 51.1694, Lon: 71.4491}
	AlmatyPoint = Point{Lat: 43.2220, Lon: 76.8512}
)

// Alternator distributes unresolvable tickets between the two domestic
// offices with an even/odd counter. One instance is scoped to a batch run so
// concurrent batches do not couple and runs stay reproducible.
type Alternator struct {
	mu      sync.Mutex
	counter int
}

// NewAlternator creates a fresh per-batch alternator.
func NewAlternator() *Alternator {
	return &Alternator{}
}

// Next advances the counter and returns the chosen office.
func (a *Alternator) Next() (Point, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counter++
	if a.counter%2 == 0 {
		return AstanaPoint, "Астана"
	}
	return AlmatyPoint, "Алматы"
}
