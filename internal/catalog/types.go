package catalog

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies one of the three work types the pipeline processes.
type Kind string

// Work kinds, in the order a full run processes them.
const (
	KindLocation   Kind = "location"
	KindRestaurant Kind = "restaurant"
	KindTag        Kind = "tag"
)

// Kinds lists every kind in dependency order: locations seed restaurants,
// restaurants are then fetched for menus and tags.
func Kinds() []Kind {
	return []Kind{KindLocation, KindRestaurant, KindTag}
}

// ParseKind resolves a user-supplied kind name. Plural forms are accepted.
func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "location", "locations":
		return KindLocation, nil
	case "restaurant", "restaurants", "menu", "menus":
		return KindRestaurant, nil
	case "tag", "tags":
		return KindTag, nil
	default:
		return "", fmt.Errorf("unknown kind %q", raw)
	}
}

func (k Kind) String() string {
	return string(k)
}

// Coordinates locate a delivery area.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// PendingUnit is one identifier awaiting fetch-and-persist.
type PendingUnit struct {
	ID   string
	Kind Kind
	// Coordinates is set for location units only.
	Coordinates *Coordinates
}

// Marker names the nullable timestamp column whose non-null state means done.
type Marker struct {
	Table  string
	Key    string
	Column string
}

// MarkerFor returns the completion marker of a kind.
func MarkerFor(kind Kind) (Marker, error) {
	switch kind {
	case KindLocation:
		return Marker{Table: "locations", Key: "id", Column: "visited_time"}, nil
	case KindRestaurant:
		return Marker{Table: "restaurants", Key: "id", Column: "visited_time"}, nil
	case KindTag:
		return Marker{Table: "restaurants", Key: "id", Column: "tags_visited_time"}, nil
	default:
		return Marker{}, fmt.Errorf("no marker for kind %q", kind)
	}
}

// Outcome is the settled state of one unit within a run.
type Outcome string

// Unit outcomes.
const (
	OutcomeCommitted Outcome = "committed"
	OutcomeEmpty     Outcome = "empty"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// RunStatus is the lifecycle state of a dispatcher run.
type RunStatus string

// Run statuses persisted in ingest_runs.status.
const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunCanceled  RunStatus = "canceled"
	RunError     RunStatus = "error"
)

// RunSummary counts how the units of one dispatcher run settled.
type RunSummary struct {
	RunID      string         `json:"run_id"`
	Kind       Kind           `json:"kind"`
	Status     RunStatus      `json:"status"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Pending    int            `json:"pending"`
	Committed  int            `json:"committed"`
	Empty      int            `json:"empty"`
	Failed     int            `json:"failed"`
	Skipped    int            `json:"skipped"`
	ByReason   map[string]int `json:"by_reason,omitempty"`
}

// Record tallies one settled unit.
func (s *RunSummary) Record(outcome Outcome, err error) {
	switch outcome {
	case OutcomeCommitted:
		s.Committed++
	case OutcomeEmpty:
		s.Empty++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeFailed:
		s.Failed++
		if s.ByReason == nil {
			s.ByReason = make(map[string]int)
		}
		s.ByReason[Reason(err)]++
	}
}

// Settled reports the number of units that reached a terminal outcome.
func (s RunSummary) Settled() int {
	return s.Committed + s.Empty + s.Failed + s.Skipped
}
