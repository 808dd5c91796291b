package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medloop/patient-scheduler/internal/assistant"
	"github.com/medloop/patient-scheduler/internal/scheduling"
)

// memRepo is an in-memory Repository. InTx serializes transactions with a
// mutex, mirroring the row-lock serialization the Postgres implementation
// gets from SELECT ... FOR UPDATE.
type memRepo struct {
	mu           sync.Mutex
	providers    map[uuid.UUID]scheduling.Provider
	slots        map[uuid.UUID]*scheduling.Slot
	appointments map[uuid.UUID]*scheduling.Appointment
	events       []scheduling.EventLog
}

func newMemRepo() *memRepo {
	return &memRepo{
		providers:    make(map[uuid.UUID]scheduling.Provider),
		slots:        make(map[uuid.UUID]*scheduling.Slot),
		appointments: make(map[uuid.UUID]*scheduling.Appointment),
	}
}

func (m *memRepo) InTx(ctx context.Context, fn func(scheduling.Repository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m)
}

func (m *memRepo) GetProviderByID(ctx context.Context, id uuid.UUID) (*scheduling.Provider, error) {
	p, ok := m.providers[id]
	if !ok {
		return nil, scheduling.ErrProviderNotFound
	}
	return &p, nil
}

func (m *memRepo) ListProviders(ctx context.Context) ([]scheduling.Provider, error) {
	out := make([]scheduling.Provider, 0, len(m.providers))
	for _, p := range m.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rating > out[j].Rating })
	return out, nil
}

func (m *memRepo) SearchProviders(ctx context.Context, query string) ([]scheduling.Provider, error) {
	q := strings.ToLower(query)
	var out []scheduling.Provider
	for _, p := range m.providers {
		if strings.Contains(strings.ToLower(p.Doctor), q) ||
			strings.Contains(strings.ToLower(p.Specialty), q) ||
			strings.Contains(strings.ToLower(p.Location), q) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memRepo) GetSlotAt(ctx context.Context, providerID uuid.UUID, start time.Time) (*scheduling.Slot, error) {
	for _, s := range m.slots {
		if s.ProviderID == providerID && s.Start.Equal(start) {
			copied := *s
			return &copied, nil
		}
	}
	return nil, scheduling.ErrSlotNotFound
}

func (m *memRepo) ListOpenSlots(ctx context.Context, providerID uuid.UUID, after time.Time, limit int) ([]scheduling.Slot, error) {
	var out []scheduling.Slot
	for _, s := range m.slots {
		if s.ProviderID == providerID && s.Status == scheduling.SlotOpen && s.Start.After(after) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRepo) SetSlotStatus(ctx context.Context, id uuid.UUID, status scheduling.SlotStatus) error {
	s, ok := m.slots[id]
	if !ok {
		return scheduling.ErrSlotNotFound
	}
	s.Status = status
	return nil
}

func (m *memRepo) FreeSlotAt(ctx context.Context, providerID uuid.UUID, start time.Time) error {
	for _, s := range m.slots {
		if s.ProviderID == providerID && s.Start.Equal(start) {
			s.Status = scheduling.SlotOpen
		}
	}
	return nil
}

func (m *memRepo) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error) {
	a, ok := m.appointments[id]
	if !ok {
		return nil, scheduling.ErrAppointmentNotFound
	}
	copied := *a
	return &copied, nil
}

func (m *memRepo) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*scheduling.AppointmentDetail, error) {
	a, ok := m.appointments[id]
	if !ok {
		return nil, scheduling.ErrAppointmentNotFound
	}
	p := m.providers[a.ProviderID]
	return &scheduling.AppointmentDetail{Appointment: *a, Doctor: p.Doctor, Location: p.Location}, nil
}

func (m *memRepo) ListAppointments(ctx context.Context) ([]scheduling.AppointmentDetail, error) {
	var out []scheduling.AppointmentDetail
	for id := range m.appointments {
		d, _ := m.GetAppointmentDetail(ctx, id)
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.After(out[j].Start) })
	return out, nil
}

// InsertAppointment rejects a second confirmed appointment for the same
// provider and time, like the partial unique index does.
func (m *memRepo) InsertAppointment(ctx context.Context, appt scheduling.Appointment) error {
	for _, a := range m.appointments {
		if a.ProviderID == appt.ProviderID && a.Start.Equal(appt.Start) && a.Status == scheduling.StatusConfirmed {
			return scheduling.ErrSlotUnavailable
		}
	}
	copied := appt
	m.appointments[appt.ID] = &copied
	return nil
}

func (m *memRepo) UpdateAppointment(ctx context.Context, appt scheduling.Appointment) error {
	if _, ok := m.appointments[appt.ID]; !ok {
		return scheduling.ErrAppointmentNotFound
	}
	copied := appt
	m.appointments[appt.ID] = &copied
	return nil
}

func (m *memRepo) FindUpcomingWithoutReminder(ctx context.Context, from, until time.Time, reminderEvent string) ([]scheduling.AppointmentDetail, error) {
	reminded := make(map[uuid.UUID]bool)
	for _, ev := range m.events {
		if ev.EventType == reminderEvent && ev.AppointmentID != nil {
			reminded[*ev.AppointmentID] = true
		}
	}
	var out []scheduling.AppointmentDetail
	for id, a := range m.appointments {
		if a.Status == scheduling.StatusConfirmed && !a.Start.Before(from) && a.Start.Before(until) && !reminded[id] {
			d, _ := m.GetAppointmentDetail(ctx, id)
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *memRepo) InsertEvent(ctx context.Context, ev scheduling.EventLog) error {
	m.events = append(m.events, ev)
	return nil
}

// Test fixture

type fixture struct {
	repo     *memRepo
	server   *httptest.Server
	provider scheduling.Provider
	slot10   *scheduling.Slot // open, tomorrow 10:00
	slot13   *scheduling.Slot // open, tomorrow 13:00
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := newMemRepo()
	provider := scheduling.Provider{
		ID:        uuid.New(),
		Doctor:    "Dr. Amy Kim",
		Specialty: "Cardiology",
		Location:  "Dallas",
		Rating:    4.8,
	}
	repo.providers[provider.ID] = provider

	day := time.Now().UTC().AddDate(0, 0, 1).Truncate(24 * time.Hour)
	slot10 := &scheduling.Slot{ID: uuid.New(), ProviderID: provider.ID, Start: day.Add(10 * time.Hour), Status: scheduling.SlotOpen}
	slot13 := &scheduling.Slot{ID: uuid.New(), ProviderID: provider.ID, Start: day.Add(13 * time.Hour), Status: scheduling.SlotOpen}
	repo.slots[slot10.ID] = slot10
	repo.slots[slot13.ID] = slot13

	svc := scheduling.NewService(repo, nil)
	router := NewRouter(RouterConfig{
		Service:   svc,
		Assistant: assistant.New(svc),
		Env:       "test",
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &fixture{repo: repo, server: server, provider: provider, slot10: slot10, slot13: slot13}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (f *fixture) book(t *testing.T, patient string, start time.Time) AppointmentResponse {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, "/api/appointments", CreateAppointmentRequest{
		ProviderID:  f.provider.ID.String(),
		PatientName: patient,
		Start:       start.Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var appt AppointmentResponse
	require.NoError(t, json.Unmarshal(body, &appt))
	return appt
}

// Tests

func TestCreateAppointment_BooksSlot(t *testing.T) {
	f := newFixture(t)

	appt := f.book(t, "Jane Doe", f.slot10.Start)

	assert.Equal(t, "confirmed", appt.Status)
	assert.Equal(t, "Jane Doe", appt.PatientName)
	assert.Equal(t, "Dr. Amy Kim", appt.Doctor)
	assert.Equal(t, "Dallas", appt.Location)
	assert.Equal(t, scheduling.SlotBooked, f.slot10.Status)
}

func TestCreateAppointment_SecondBookingConflicts(t *testing.T) {
	f := newFixture(t)
	f.book(t, "Jane Doe", f.slot10.Start)

	resp, body := f.do(t, http.MethodPost, "/api/appointments", CreateAppointmentRequest{
		ProviderID:  f.provider.ID.String(),
		PatientName: "John Roe",
		Start:       f.slot10.Start.Format(time.RFC3339),
	})

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.Equal(t, "slot_not_open", errResp.Error)
}

func TestCreateAppointment_ConcurrentBookingsOneWinner(t *testing.T) {
	f := newFixture(t)

	const callers = 8
	statuses := make([]int, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, _ := f.do(t, http.MethodPost, "/api/appointments", CreateAppointmentRequest{
				ProviderID:  f.provider.ID.String(),
				PatientName: fmt.Sprintf("Patient %d", i),
				Start:       f.slot10.Start.Format(time.RFC3339),
			})
			statuses[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	created, conflicted := 0, 0
	for _, s := range statuses {
		switch s {
		case http.StatusCreated:
			created++
		case http.StatusConflict:
			conflicted++
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, callers-1, conflicted)

	confirmed := 0
	for _, a := range f.repo.appointments {
		if a.Status == scheduling.StatusConfirmed {
			confirmed++
		}
	}
	assert.Equal(t, 1, confirmed)
}

func TestCreateAppointment_UnpublishedTime(t *testing.T) {
	f := newFixture(t)
	// 8:30 was never published as a slot; booking it still succeeds.
	start := f.slot10.Start.Add(-90 * time.Minute)

	appt := f.book(t, "Jane Doe", start)

	assert.Equal(t, "confirmed", appt.Status)
}

func TestCreateAppointment_Validation(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name string
		req  CreateAppointmentRequest
	}{
		{"bad provider id", CreateAppointmentRequest{ProviderID: "p1", PatientName: "Jane", Start: f.slot10.Start.Format(time.RFC3339)}},
		{"missing patient name", CreateAppointmentRequest{ProviderID: f.provider.ID.String(), PatientName: "  ", Start: f.slot10.Start.Format(time.RFC3339)}},
		{"bad start", CreateAppointmentRequest{ProviderID: f.provider.ID.String(), PatientName: "Jane", Start: "tomorrow at ten"}},
	}
	for _, tc := range cases {
		resp, _ := f.do(t, http.MethodPost, "/api/appointments", tc.req)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, tc.name)
	}
}

func TestCreateAppointment_UnknownProvider(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/api/appointments", CreateAppointmentRequest{
		ProviderID:  uuid.NewString(),
		PatientName: "Jane Doe",
		Start:       f.slot10.Start.Format(time.RFC3339),
	})

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancel_ReopensSlotAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, "Jane Doe", f.slot10.Start)
	require.Equal(t, scheduling.SlotBooked, f.slot10.Status)

	resp, body := f.do(t, http.MethodPatch, "/api/appointments/"+appt.ID.String()+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cancelled AppointmentResponse
	require.NoError(t, json.Unmarshal(body, &cancelled))
	assert.Equal(t, "cancelled", cancelled.Status)
	assert.Equal(t, scheduling.SlotOpen, f.slot10.Status)

	// Second cancel re-applies the same state and still succeeds.
	resp, _ = f.do(t, http.MethodPatch, "/api/appointments/"+appt.ID.String()+"/cancel", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, scheduling.SlotOpen, f.slot10.Status)

	// The freed slot is bookable again.
	rebooked := f.book(t, "John Roe", f.slot10.Start)
	assert.Equal(t, "confirmed", rebooked.Status)
	assert.Equal(t, scheduling.SlotBooked, f.slot10.Status)
}

func TestCancel_NotFound(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodPatch, "/api/appointments/"+uuid.NewString()+"/cancel", nil)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReschedule_MovesBetweenSlots(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, "Jane Doe", f.slot10.Start)

	resp, body := f.do(t, http.MethodPatch, "/api/appointments/"+appt.ID.String()+"/reschedule",
		RescheduleRequest{Start: f.slot13.Start.Format(time.RFC3339)})

	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var moved AppointmentResponse
	require.NoError(t, json.Unmarshal(body, &moved))
	assert.True(t, moved.Start.Equal(f.slot13.Start))
	assert.Equal(t, "confirmed", moved.Status)
	assert.Equal(t, scheduling.SlotOpen, f.slot10.Status)
	assert.Equal(t, scheduling.SlotBooked, f.slot13.Status)
}

func TestReschedule_TargetSlotTaken(t *testing.T) {
	f := newFixture(t)
	f.book(t, "Jane Doe", f.slot13.Start)
	other := f.book(t, "John Roe", f.slot10.Start)

	resp, _ := f.do(t, http.MethodPatch, "/api/appointments/"+other.ID.String()+"/reschedule",
		RescheduleRequest{Start: f.slot13.Start.Format(time.RFC3339)})

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	// Nothing moved: the original booking still holds both its slot and time.
	assert.Equal(t, scheduling.SlotBooked, f.slot10.Status)
	assert.Equal(t, scheduling.SlotBooked, f.slot13.Status)
}

func TestReschedule_CancelledAppointment(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, "Jane Doe", f.slot10.Start)
	resp, _ := f.do(t, http.MethodPatch, "/api/appointments/"+appt.ID.String()+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := f.do(t, http.MethodPatch, "/api/appointments/"+appt.ID.String()+"/reschedule",
		RescheduleRequest{Start: f.slot13.Start.Format(time.RFC3339)})

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.Equal(t, "appointment_cancelled", errResp.Error)
}

func TestListProviders(t *testing.T) {
	f := newFixture(t)
	f.book(t, "Jane Doe", f.slot10.Start)

	resp, body := f.do(t, http.MethodGet, "/api/providers", nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var providers []ProviderResponse
	require.NoError(t, json.Unmarshal(body, &providers))
	require.Len(t, providers, 1)
	assert.Equal(t, "Dr. Amy Kim", providers[0].Doctor)
	// Only the remaining open slot is advertised.
	require.Len(t, providers[0].Slots, 1)
	assert.True(t, providers[0].Slots[0].Start.Equal(f.slot13.Start))
}

func TestProviderSlots_UnknownProvider(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodGet, "/api/providers/"+uuid.NewString()+"/slots", nil)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChat_BookIntent(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/chat", ChatRequest{Message: "book me with dr kim"})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var reply assistant.Reply
	require.NoError(t, json.Unmarshal(body, &reply))
	assert.Equal(t, assistant.IntentBook, reply.Intent)
	require.NotNil(t, reply.Candidates)
	assert.Equal(t, f.provider.ID, *reply.Candidates.ProviderID)
	assert.NotEmpty(t, reply.Candidates.Slots)
}

func TestChat_EmptyMessage(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/api/chat", ChatRequest{})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
