package journal

import "time"

// Event represents a journaled event.
type Event struct {
	Time        time.Time
	Type        string // e.g., "order", "signal", "skip", "error"
	StrategyID  string
	CandleIndex int
	Description string
	Data        map[string]any
}

// Journaler interface for journaling events.
type Journaler interface {
	LogEvent(event Event) error
	GetEvents(eventType string, start, end time.Time) ([]Event, error)
}

// MemoryJournal is an append-only in-process journal. Each backtest run owns
// its own instance, so there is no locking.
type MemoryJournal struct {
	events []Event
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{events: make([]Event, 0, 256)}
}

func (j *MemoryJournal) LogEvent(event Event) error {
	j.events = append(j.events, event)
	return nil
}

func (j *MemoryJournal) GetEvents(eventType string, start, end time.Time) ([]Event, error) {
	var out []Event
	for _, e := range j.events {
		if eventType != "" && e.Type != eventType {
			continue
		}
		if !start.IsZero() && e.Time.Before(start) {
			continue
		}
		if !end.IsZero() && e.Time.After(end) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// All returns every event in insertion order.
func (j *MemoryJournal) All() []Event { return j.events }
