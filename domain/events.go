package domain

import (
	"encoding/json"
	"errors"
)

// EventKind names a server-to-client message. The value doubles as the
// method name clients dispatch on.
type EventKind string

const (
	BookingUpdated    EventKind = "BookingUpdated"
	DigitalKeyCreated EventKind = "DigitalKeyCreated"
)

var ErrUnknownEventKind = errors.New("unknown event kind")

// Valid reports whether k is one of the kinds clients understand.
func (k EventKind) Valid() bool {
	switch k {
	case BookingUpdated, DigitalKeyCreated:
		return true
	}
	return false
}

// Hints narrow the audience of an event. Both are optional.
type Hints struct {
	HotelID   *int64 `json:"hotelId,omitempty"`
	BookingID *int64 `json:"bookingId,omitempty"`
}

// Event is an immutable domain event announced by the application after a
// state change has committed. It carries no recipient list.
type Event struct {
	ID      string          `json:"id"`
	Kind    EventKind       `json:"kind"`
	Payload json.RawMessage `json:"payload"`
	Hints
}

// ForHotel returns a copy of e scoped to the given hotel.
func (e Event) ForHotel(id int64) Event {
	e.HotelID = &id
	return e
}

// ForBooking returns a copy of e scoped to the given booking.
func (e Event) ForBooking(id int64) Event {
	e.BookingID = &id
	return e
}
