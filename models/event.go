package models

import "time"

// CalendarEventType distinguishes the kind of day an event marks.
type CalendarEventType string

const (
	EventBookbuilding CalendarEventType = "bookbuilding"
	EventTrade        CalendarEventType = "trade"
)

// CalendarEvent associates one record with a single calendar day.
type CalendarEvent struct {
	Type   CalendarEventType `json:"type"`
	Label  string            `json:"label"`
	Record *IPORecord        `json:"record"`
}

// EventIndex maps calendar days to the events occurring on them. Days are
// keyed by midnight UTC.
type EventIndex map[time.Time][]CalendarEvent

// DayKey truncates a timestamp to its index key.
func DayKey(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// BuildEventIndex expands each record into per-day events: one entry for
// every day of the bookbuilding window plus one for the listing day.
func BuildEventIndex(records []IPORecord) EventIndex {
	index := make(EventIndex)
	for i := range records {
		record := &records[i]
		if record.BookbuildingStart != nil && record.BookbuildingEnd != nil {
			current := DayKey(*record.BookbuildingStart)
			end := DayKey(*record.BookbuildingEnd)
			for !current.After(end) {
				index[current] = append(index[current], CalendarEvent{
					Type:   EventBookbuilding,
					Label:  "Bookbuilding",
					Record: record,
				})
				current = current.AddDate(0, 0, 1)
			}
		}
		if record.ListingDate != nil {
			day := DayKey(*record.ListingDate)
			index[day] = append(index[day], CalendarEvent{
				Type:   EventTrade,
				Label:  "Listing date",
				Record: record,
			})
		}
	}
	return index
}
