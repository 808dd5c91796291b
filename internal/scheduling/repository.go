package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrProviderNotFound    = errors.New("provider not found")
	ErrSlotNotFound        = errors.New("slot not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	// InTx runs fn against a transaction-scoped repository. Lookups made
	// through that repository take row locks where the implementation
	// supports them, so a check and the write that follows it serialize
	// against concurrent writers.
	InTx(ctx context.Context, fn func(Repository) error) error

	GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error)
	ListProviders(ctx context.Context) ([]Provider, error)
	SearchProviders(ctx context.Context, query string) ([]Provider, error)

	// For availability checks
	GetSlotAt(ctx context.Context, providerID uuid.UUID, start time.Time) (*Slot, error)
	ListOpenSlots(ctx context.Context, providerID uuid.UUID, after time.Time, limit int) ([]Slot, error)
	SetSlotStatus(ctx context.Context, id uuid.UUID, status SlotStatus) error
	FreeSlotAt(ctx context.Context, providerID uuid.UUID, start time.Time) error

	// Creation and updates
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error)
	ListAppointments(ctx context.Context) ([]AppointmentDetail, error)
	InsertAppointment(ctx context.Context, appt Appointment) error
	UpdateAppointment(ctx context.Context, appt Appointment) error

	// Reminder worker
	FindUpcomingWithoutReminder(ctx context.Context, from, until time.Time, reminderEvent string) ([]AppointmentDetail, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
