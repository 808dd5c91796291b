// Package assistant turns free-text messages into scheduling suggestions.
// It is a read-only caller of the ledger: it proposes providers, slots and
// appointments, and the client performs the actual booking through the
// regular API endpoints.
package assistant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medloop/patient-scheduler/internal/scheduling"
)

const (
	slotCandidates     = 3
	providerCandidates = 5
)

// Ledger is the slice of the scheduling service the assistant reads from.
type Ledger interface {
	ListProviders(ctx context.Context, slotsPerProvider int) ([]scheduling.ProviderAvailability, error)
	SearchProviders(ctx context.Context, query string, slotsPerProvider int) ([]scheduling.ProviderAvailability, error)
	ListAppointments(ctx context.Context) ([]scheduling.AppointmentDetail, error)
}

type Assistant struct {
	ledger Ledger
}

func New(ledger Ledger) *Assistant {
	return &Assistant{ledger: ledger}
}

// SlotCandidate is an open slot offered to the user.
type SlotCandidate struct {
	Start time.Time `json:"start"`
	Label string    `json:"label"`
}

// Candidates carries whatever the client needs to complete the suggested
// action against the booking endpoints.
type Candidates struct {
	ProviderID    *uuid.UUID      `json:"providerId,omitempty"`
	AppointmentID *uuid.UUID      `json:"appointmentId,omitempty"`
	Slots         []SlotCandidate `json:"slots,omitempty"`
}

type ProviderSummary struct {
	ID       uuid.UUID `json:"id"`
	Doctor   string    `json:"doctor"`
	Location string    `json:"location"`
}

type Reply struct {
	Reply      string            `json:"reply"`
	Intent     Intent            `json:"intent"`
	Candidates *Candidates       `json:"candidates,omitempty"`
	Results    []ProviderSummary `json:"results,omitempty"`
}

// Respond classifies the message and assembles a suggestion from current
// ledger state.
func (a *Assistant) Respond(ctx context.Context, message string) (*Reply, error) {
	intent := classifyIntent(message)

	switch intent {
	case IntentBook:
		return a.respondBook(ctx, message)
	case IntentCancel:
		return a.respondCancel(ctx)
	case IntentReschedule:
		return a.respondReschedule(ctx)
	default:
		return a.respondSearch(ctx, message)
	}
}

func (a *Assistant) respondBook(ctx context.Context, message string) (*Reply, error) {
	providers, err := a.ledger.ListProviders(ctx, slotCandidates)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}

	provider := matchProvider(message, providers)
	if provider == nil {
		return &Reply{
			Reply:  "Which doctor would you like to see? Tell me a name, specialty or location and I can search for you.",
			Intent: IntentBook,
		}, nil
	}

	slots := slotCandidatesFor(provider.Slots)
	if len(slots) == 0 {
		return &Reply{
			Reply:      fmt.Sprintf("Sorry, %s has no available slots right now.", provider.Doctor),
			Intent:     IntentBook,
			Candidates: &Candidates{ProviderID: &provider.ID},
		}, nil
	}

	return &Reply{
		Reply: fmt.Sprintf("I found %d available slots with %s: %s. Would you like to book one?",
			len(slots), provider.Doctor, joinLabels(slots)),
		Intent:     IntentBook,
		Candidates: &Candidates{ProviderID: &provider.ID, Slots: slots},
	}, nil
}

func (a *Assistant) respondCancel(ctx context.Context) (*Reply, error) {
	appt, err := a.latestActiveAppointment(ctx)
	if err != nil {
		return nil, err
	}
	if appt == nil {
		return &Reply{
			Reply:  "You don't have any active appointments to cancel.",
			Intent: IntentCancel,
		}, nil
	}

	return &Reply{
		Reply: fmt.Sprintf("I found your appointment with %s on %s. Would you like to cancel it?",
			appt.Doctor, formatSlotTime(appt.Start)),
		Intent:     IntentCancel,
		Candidates: &Candidates{AppointmentID: &appt.ID},
	}, nil
}

func (a *Assistant) respondReschedule(ctx context.Context) (*Reply, error) {
	appt, err := a.latestActiveAppointment(ctx)
	if err != nil {
		return nil, err
	}
	if appt == nil {
		return &Reply{
			Reply:  "You don't have any active appointments to reschedule.",
			Intent: IntentReschedule,
		}, nil
	}

	providers, err := a.ledger.ListProviders(ctx, slotCandidates)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}

	var slots []SlotCandidate
	for i := range providers {
		if providers[i].ID == appt.ProviderID {
			slots = slotCandidatesFor(providers[i].Slots)
			break
		}
	}

	if len(slots) == 0 {
		return &Reply{
			Reply:      fmt.Sprintf("Sorry, no available slots to reschedule your appointment with %s.", appt.Doctor),
			Intent:     IntentReschedule,
			Candidates: &Candidates{AppointmentID: &appt.ID},
		}, nil
	}

	return &Reply{
		Reply: fmt.Sprintf("I can reschedule your appointment with %s. Available slots: %s. Which would you prefer?",
			appt.Doctor, joinLabels(slots)),
		Intent:     IntentReschedule,
		Candidates: &Candidates{AppointmentID: &appt.ID, Slots: slots},
	}, nil
}

func (a *Assistant) respondSearch(ctx context.Context, message string) (*Reply, error) {
	q := searchTerm(message)

	// A bare "find" or "search" offers the top providers instead of
	// matching nothing.
	var providers []scheduling.ProviderAvailability
	var err error
	if q == "" {
		providers, err = a.ledger.ListProviders(ctx, 0)
	} else {
		providers, err = a.ledger.SearchProviders(ctx, q, 0)
	}
	if err != nil {
		return nil, fmt.Errorf("search providers: %w", err)
	}

	results := make([]ProviderSummary, 0, providerCandidates)
	for _, p := range providers {
		if len(results) == providerCandidates {
			break
		}
		results = append(results, ProviderSummary{ID: p.ID, Doctor: p.Doctor, Location: p.Location})
	}

	reply := fmt.Sprintf("I didn't find a provider that matches %q.", q)
	if q == "" {
		reply = "I didn't find any providers."
	}
	if len(results) > 0 {
		names := make([]string, len(results))
		for i, r := range results {
			names[i] = r.Doctor
		}
		reply = fmt.Sprintf("I found %d matching providers. For example: %s.", len(results), strings.Join(names, ", "))
	}

	return &Reply{
		Reply:   reply,
		Intent:  IntentSearch,
		Results: results,
	}, nil
}

// latestActiveAppointment returns the most recent non-cancelled appointment,
// or nil when there is none.
func (a *Assistant) latestActiveAppointment(ctx context.Context) (*scheduling.AppointmentDetail, error) {
	appts, err := a.ledger.ListAppointments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	for i := range appts {
		if appts[i].Status != scheduling.StatusCancelled {
			return &appts[i], nil
		}
	}
	return nil, nil
}

func slotCandidatesFor(slots []scheduling.Slot) []SlotCandidate {
	out := make([]SlotCandidate, 0, slotCandidates)
	for _, s := range slots {
		if len(out) == slotCandidates {
			break
		}
		out = append(out, SlotCandidate{Start: s.Start, Label: formatSlotTime(s.Start)})
	}
	return out
}

func formatSlotTime(t time.Time) string {
	return t.Format("Mon Jan 2, 3:04 PM")
}

func joinLabels(slots []SlotCandidate) string {
	labels := make([]string, len(slots))
	for i, s := range slots {
		labels[i] = s.Label
	}
	return strings.Join(labels, ", ")
}
