package scheduling

import (
	"time"

	"github.com/google/uuid"
)

type SlotStatus string

const (
	SlotOpen   SlotStatus = "open"
	SlotBooked SlotStatus = "booked"
)

type AppointmentStatus string

const (
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
)

// Provider is a bookable clinician. Providers are seeded administratively
// and never mutated by the booking flow.
type Provider struct {
	ID        uuid.UUID
	Doctor    string
	Specialty string
	Location  string
	Rating    float64
}

// Slot is a published time window for one provider. Slots are advisory
// availability hints: a time with no slot row can still be booked.
type Slot struct {
	ID         uuid.UUID
	ProviderID uuid.UUID
	Start      time.Time
	Status     SlotStatus
}

type Appointment struct {
	ID          uuid.UUID
	ProviderID  uuid.UUID
	PatientName string
	Start       time.Time
	Status      AppointmentStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AppointmentDetail joins an appointment with the provider display fields
// the API returns alongside it.
type AppointmentDetail struct {
	Appointment
	Doctor   string
	Location string
}

// ProviderAvailability pairs a provider with its next open slots.
type ProviderAvailability struct {
	Provider
	Slots []Slot
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
