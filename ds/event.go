package ds

import "time"

// Event is one entry of a channel log. Pos is the channel-local position,
// starting at 1 and strictly increasing. Payload is the BSON document exactly
// as published.
type Event struct {
	Channel   string
	Pos       int64
	Timestamp time.Time
	Payload   []byte
}

// StartFrom selects where a channel subscription begins. At most one field is
// set; the zero value delivers only events appended after subscribing.
type StartFrom struct {
	Pos       *int64
	Timestamp *time.Time
}

func FromPosition(pos int64) StartFrom {
	return StartFrom{Pos: &pos}
}

func FromTime(t time.Time) StartFrom {
	return StartFrom{Timestamp: &t}
}

func (s StartFrom) NewOnly() bool {
	return s.Pos == nil && s.Timestamp == nil
}

// Includes reports whether ev is at or after the start point.
func (s StartFrom) Includes(ev Event) bool {
	switch {
	case s.Pos != nil:
		return ev.Pos >= *s.Pos
	case s.Timestamp != nil:
		return !ev.Timestamp.Before(*s.Timestamp)
	default:
		return true
	}
}
