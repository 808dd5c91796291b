package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

const (
	EventAppointmentBooked      = "APPOINTMENT_BOOKED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventAppointmentReminder    = "APPOINTMENT_REMINDER"
)

var (
	ErrSlotUnavailable      = errors.New("slot is not open")
	ErrAppointmentCancelled = errors.New("appointment is cancelled")
)

// EventPublisher pushes booking lifecycle events to an external broker.
// Publishing is best effort; a failure never rolls back the booking.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, appointmentID uuid.UUID, payload map[string]any) error
}

// Service is the scheduling ledger. It owns slots and appointments and keeps
// them consistent: each mutating operation is a single store transaction, so
// the ledger is never observable with a half-applied slot transfer.
type Service struct {
	repo      Repository
	publisher EventPublisher
	now       func() time.Time
}

// NewService builds a ledger around repo. publisher may be nil to disable
// broker events (the Postgres event log is always written).
func NewService(repo Repository, publisher EventPublisher) *Service {
	return &Service{
		repo:      repo,
		publisher: publisher,
		now:       time.Now,
	}
}

// Book reserves the provider's time for a patient. If a slot row is
// published for the time it must be open and is flipped to booked in the
// same transaction as the appointment insert. Times with no published slot
// book successfully: slots are advisory availability hints, not a hard gate.
func (s *Service) Book(ctx context.Context, providerID uuid.UUID, patientName string, start time.Time) (*AppointmentDetail, error) {
	var detail *AppointmentDetail

	err := s.repo.InTx(ctx, func(r Repository) error {
		provider, err := r.GetProviderByID(ctx, providerID)
		if err != nil {
			if errors.Is(err, ErrProviderNotFound) {
				return err
			}
			return fmt.Errorf("load provider: %w", err)
		}

		slot, err := r.GetSlotAt(ctx, providerID, start)
		if err != nil && !errors.Is(err, ErrSlotNotFound) {
			return fmt.Errorf("load slot: %w", err)
		}
		if slot != nil && slot.Status != SlotOpen {
			return ErrSlotUnavailable
		}

		if slot != nil {
			if err := r.SetSlotStatus(ctx, slot.ID, SlotBooked); err != nil {
				return err
			}
		}

		now := s.now().UTC()
		appt := Appointment{
			ID:          uuid.New(),
			ProviderID:  providerID,
			PatientName: patientName,
			Start:       start.UTC(),
			Status:      StatusConfirmed,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := r.InsertAppointment(ctx, appt); err != nil {
			return err
		}

		s.logEvent(ctx, r, appt.ID, EventAppointmentBooked, map[string]any{
			"provider_id":  providerID.String(),
			"patient_name": patientName,
			"start":        appt.Start,
		})

		detail = &AppointmentDetail{
			Appointment: appt,
			Doctor:      provider.Doctor,
			Location:    provider.Location,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, EventAppointmentBooked, detail.ID, map[string]any{
		"provider_id": providerID.String(),
		"start":       detail.Start,
	})

	return detail, nil
}

// Cancel marks the appointment cancelled and reopens its slot if one was
// published. Cancelling an already-cancelled appointment re-applies the same
// terminal state and succeeds.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	var wasLive bool

	err := s.repo.InTx(ctx, func(r Repository) error {
		appt, err := r.GetAppointmentByID(ctx, id)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				return err
			}
			return fmt.Errorf("load appointment: %w", err)
		}

		wasLive = appt.Status != StatusCancelled
		if wasLive {
			appt.Status = StatusCancelled
			appt.UpdatedAt = s.now().UTC()
			if err := r.UpdateAppointment(ctx, *appt); err != nil {
				return err
			}
		}

		if err := r.FreeSlotAt(ctx, appt.ProviderID, appt.Start); err != nil {
			return err
		}

		if wasLive {
			s.logEvent(ctx, r, appt.ID, EventAppointmentCancelled, map[string]any{
				"provider_id": appt.ProviderID.String(),
				"start":       appt.Start,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if wasLive {
		s.publish(ctx, EventAppointmentCancelled, id, nil)
	}

	return s.repo.GetAppointmentDetail(ctx, id)
}

// Reschedule moves an appointment to a new time: the old slot is reopened,
// the new slot (if published) is checked open and flipped to booked, and the
// appointment row is updated, all in one transaction. Cancelled appointments
// cannot be rescheduled; cancellation is terminal.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newStart time.Time) (*AppointmentDetail, error) {
	err := s.repo.InTx(ctx, func(r Repository) error {
		appt, err := r.GetAppointmentByID(ctx, id)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				return err
			}
			return fmt.Errorf("load appointment: %w", err)
		}
		if appt.Status == StatusCancelled {
			return ErrAppointmentCancelled
		}

		target, err := r.GetSlotAt(ctx, appt.ProviderID, newStart)
		if err != nil && !errors.Is(err, ErrSlotNotFound) {
			return fmt.Errorf("load target slot: %w", err)
		}
		if target != nil && target.Status != SlotOpen {
			return ErrSlotUnavailable
		}

		if err := r.FreeSlotAt(ctx, appt.ProviderID, appt.Start); err != nil {
			return err
		}
		if target != nil {
			if err := r.SetSlotStatus(ctx, target.ID, SlotBooked); err != nil {
				return err
			}
		}

		oldStart := appt.Start
		appt.Start = newStart.UTC()
		appt.Status = StatusConfirmed
		appt.UpdatedAt = s.now().UTC()
		if err := r.UpdateAppointment(ctx, *appt); err != nil {
			return err
		}

		s.logEvent(ctx, r, appt.ID, EventAppointmentRescheduled, map[string]any{
			"provider_id": appt.ProviderID.String(),
			"from":        oldStart,
			"to":          appt.Start,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, EventAppointmentRescheduled, id, map[string]any{
		"to": newStart.UTC(),
	})

	return s.repo.GetAppointmentDetail(ctx, id)
}

// Reads

// ListProviders returns all providers ordered by rating, each with its next
// open slots.
func (s *Service) ListProviders(ctx context.Context, slotsPerProvider int) ([]ProviderAvailability, error) {
	providers, err := s.repo.ListProviders(ctx)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	return s.attachSlots(ctx, providers, slotsPerProvider)
}

// SearchProviders matches query against doctor, specialty and location.
func (s *Service) SearchProviders(ctx context.Context, query string, slotsPerProvider int) ([]ProviderAvailability, error) {
	if query == "" {
		return []ProviderAvailability{}, nil
	}
	providers, err := s.repo.SearchProviders(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search providers: %w", err)
	}
	return s.attachSlots(ctx, providers, slotsPerProvider)
}

// attachSlots hydrates each provider with its next open slots. A limit of
// zero skips the slot lookup entirely for callers that only need the
// provider rows.
func (s *Service) attachSlots(ctx context.Context, providers []Provider, limit int) ([]ProviderAvailability, error) {
	now := s.now().UTC()
	result := make([]ProviderAvailability, 0, len(providers))
	for _, p := range providers {
		if limit <= 0 {
			result = append(result, ProviderAvailability{Provider: p})
			continue
		}
		slots, err := s.repo.ListOpenSlots(ctx, p.ID, now, limit)
		if err != nil {
			return nil, fmt.Errorf("list open slots for %s: %w", p.ID, err)
		}
		result = append(result, ProviderAvailability{Provider: p, Slots: slots})
	}
	return result, nil
}

// ListOpenSlots returns a provider's open future slots.
func (s *Service) ListOpenSlots(ctx context.Context, providerID uuid.UUID, limit int) ([]Slot, error) {
	if limit <= 0 {
		limit = 50 // default
	}
	if limit > 200 {
		limit = 200 // max
	}
	if _, err := s.repo.GetProviderByID(ctx, providerID); err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load provider: %w", err)
	}
	slots, err := s.repo.ListOpenSlots(ctx, providerID, s.now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list open slots: %w", err)
	}
	return slots, nil
}

func (s *Service) ListAppointments(ctx context.Context) ([]AppointmentDetail, error) {
	appts, err := s.repo.ListAppointments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appts, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	return s.repo.GetAppointmentDetail(ctx, id)
}

// SendReminders publishes a reminder event for every confirmed appointment
// starting within window from now, recording each one in the event log so a
// later run does not re-send it. It returns the number of reminders sent.
func (s *Service) SendReminders(ctx context.Context, window time.Duration) (int, error) {
	now := s.now().UTC()
	upcoming, err := s.repo.FindUpcomingWithoutReminder(ctx, now, now.Add(window), EventAppointmentReminder)
	if err != nil {
		return 0, fmt.Errorf("find upcoming appointments: %w", err)
	}

	sent := 0
	for _, appt := range upcoming {
		// Record the reminder before publishing. A failed insert skips the
		// publish and the next run retries; the reverse order would re-send
		// the reminder every tick until the insert succeeds.
		apptID := appt.ID
		ev := EventLog{
			EventType:     EventAppointmentReminder,
			AppointmentID: &apptID,
			CreatedAt:     now,
		}
		if err := s.repo.InsertEvent(ctx, ev); err != nil {
			log.Printf("failed to record reminder for appointment %s: %v", appt.ID, err)
			continue
		}

		s.publish(ctx, EventAppointmentReminder, appt.ID, map[string]any{
			"provider_id":  appt.ProviderID.String(),
			"doctor":       appt.Doctor,
			"patient_name": appt.PatientName,
			"start":        appt.Start,
		})
		sent++
	}
	return sent, nil
}

// logEvent writes an event row inside the caller's transaction so the audit
// trail commits atomically with the mutation it describes.
func (s *Service) logEvent(ctx context.Context, r Repository, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("failed to marshal event payload for %s: %v", eventType, err)
		data = nil
	}

	apptID := appointmentID
	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now().UTC(),
	}
	if err := r.InsertEvent(ctx, ev); err != nil {
		log.Printf("failed to insert event log %s for appointment %s: %v", eventType, appointmentID, err)
	}
}

func (s *Service) publish(ctx context.Context, eventType string, appointmentID uuid.UUID, payload map[string]any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, eventType, appointmentID, payload); err != nil {
		log.Printf("failed to publish %s for appointment %s: %v", eventType, appointmentID, err)
	}
}
