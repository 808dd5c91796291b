package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medloop/patient-scheduler/internal/assistant"
	redisclient "github.com/medloop/patient-scheduler/internal/redis"
	"github.com/medloop/patient-scheduler/internal/scheduling"
)

const (
	providersCacheKey = "cache:providers"
	slotsPerProvider  = 5
)

func rootHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("Patient scheduling API running. Try /health/live or /api/providers"))
	}
}

func listProvidersHandler(svc *scheduling.Service, cache *redisclient.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cache != nil {
			var cached []ProviderResponse
			hit, err := cache.Get(r.Context(), providersCacheKey, &cached)
			if err != nil {
				log.Printf("provider cache read failed: %v", err)
			}
			if hit {
				writeJSON(w, http.StatusOK, cached)
				return
			}
		}

		providers, err := svc.ListProviders(r.Context(), slotsPerProvider)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		resp := toProviderResponses(providers)
		if cache != nil {
			if err := cache.Set(r.Context(), providersCacheKey, resp); err != nil {
				log.Printf("provider cache write failed: %v", err)
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func searchProvidersHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		providers, err := svc.SearchProviders(r.Context(), q, slotsPerProvider)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, toProviderResponses(providers))
	}
}

func providerSlotsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "id must be a valid UUID")
			return
		}

		slots, err := svc.ListOpenSlots(r.Context(), id, 0)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSlotResponses(slots))
	}
}

func listAppointmentsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appts, err := svc.ListAppointments(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		resp := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		detail, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(detail))
	}
}

func createAppointmentHandler(svc *scheduling.Service, cache *redisclient.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		providerID, err := uuid.Parse(req.ProviderID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "providerId must be a valid UUID")
			return
		}
		if strings.TrimSpace(req.PatientName) == "" {
			writeError(w, http.StatusBadRequest, "invalid_patient_name", "patientName is required")
			return
		}
		start, err := time.Parse(time.RFC3339, req.Start)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start", "start must be an RFC 3339 timestamp")
			return
		}

		detail, err := svc.Book(r.Context(), providerID, strings.TrimSpace(req.PatientName), start)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		invalidateProviderCache(r, cache)
		writeJSON(w, http.StatusCreated, toAppointmentResponse(detail))
	}
}

func cancelAppointmentHandler(svc *scheduling.Service, cache *redisclient.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		detail, err := svc.Cancel(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		invalidateProviderCache(r, cache)
		writeJSON(w, http.StatusOK, toAppointmentResponse(detail))
	}
}

func rescheduleAppointmentHandler(svc *scheduling.Service, cache *redisclient.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		start, err := time.Parse(time.RFC3339, req.Start)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start", "start must be an RFC 3339 timestamp")
			return
		}

		detail, err := svc.Reschedule(r.Context(), id, start)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		invalidateProviderCache(r, cache)
		writeJSON(w, http.StatusOK, toAppointmentResponse(detail))
	}
}

func chatHandler(a *assistant.Assistant) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			writeError(w, http.StatusBadRequest, "invalid_message", "message is required")
			return
		}

		reply, err := a.Respond(r.Context(), req.Message)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, reply)
	}
}

// invalidateProviderCache drops the cached availability listing after any
// mutation that might change it.
func invalidateProviderCache(r *http.Request, cache *redisclient.Cache) {
	if cache == nil {
		return
	}
	if err := cache.Invalidate(r.Context(), providersCacheKey); err != nil {
		log.Printf("provider cache invalidation failed: %v", err)
	}
}

func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduling.ErrProviderNotFound):
		writeError(w, http.StatusNotFound, "provider_not_found", err.Error())
	case errors.Is(err, scheduling.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, scheduling.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_not_open", err.Error())
	case errors.Is(err, scheduling.ErrAppointmentCancelled):
		writeError(w, http.StatusConflict, "appointment_cancelled", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
