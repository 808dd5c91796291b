package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/medloop/patient-scheduler/internal/scheduling"
)

type CreateAppointmentRequest struct {
	ProviderID  string `json:"providerId"`
	PatientName string `json:"patientName"`
	Start       string `json:"start"` // ISO-8601
}

type RescheduleRequest struct {
	Start string `json:"start"` // ISO-8601
}

type ChatRequest struct {
	Message string `json:"message"`
}

type AppointmentResponse struct {
	ID          uuid.UUID `json:"id"`
	ProviderID  uuid.UUID `json:"providerId"`
	PatientName string    `json:"patientName"`
	Start       time.Time `json:"start"`
	Status      string    `json:"status"`
	Doctor      string    `json:"doctor"`
	Location    string    `json:"location"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func toAppointmentResponse(d *scheduling.AppointmentDetail) AppointmentResponse {
	return AppointmentResponse{
		ID:          d.ID,
		ProviderID:  d.ProviderID,
		PatientName: d.PatientName,
		Start:       d.Start,
		Status:      string(d.Status),
		Doctor:      d.Doctor,
		Location:    d.Location,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

type SlotResponse struct {
	ID         uuid.UUID `json:"id"`
	ProviderID uuid.UUID `json:"providerId"`
	Start      time.Time `json:"start"`
	Status     string    `json:"status"`
}

func toSlotResponses(slots []scheduling.Slot) []SlotResponse {
	out := make([]SlotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, SlotResponse{
			ID:         s.ID,
			ProviderID: s.ProviderID,
			Start:      s.Start,
			Status:     string(s.Status),
		})
	}
	return out
}

type ProviderResponse struct {
	ID        uuid.UUID      `json:"id"`
	Doctor    string         `json:"doctor"`
	Specialty string         `json:"specialty"`
	Location  string         `json:"location"`
	Rating    float64        `json:"rating"`
	Slots     []SlotResponse `json:"slots"`
}

func toProviderResponses(providers []scheduling.ProviderAvailability) []ProviderResponse {
	out := make([]ProviderResponse, 0, len(providers))
	for _, p := range providers {
		out = append(out, ProviderResponse{
			ID:        p.ID,
			Doctor:    p.Doctor,
			Specialty: p.Specialty,
			Location:  p.Location,
			Rating:    p.Rating,
			Slots:     toSlotResponses(p.Slots),
		})
	}
	return out
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
