package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jma1ice/newsletterr/internal/charts"
	"github.com/jma1ice/newsletterr/internal/domain"
	"github.com/jma1ice/newsletterr/internal/recurrence"
	"github.com/jma1ice/newsletterr/internal/store/sqlite"
)

// fakeStore is an in-memory Store for handler tests.
type fakeStore struct {
	schedules map[uuid.UUID]domain.Schedule
	lists     map[uuid.UUID]domain.RecipientList
	templates map[uuid.UUID]domain.Template
	failWith  error
	now       time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		schedules: make(map[uuid.UUID]domain.Schedule),
		lists:     make(map[uuid.UUID]domain.RecipientList),
		templates: make(map[uuid.UUID]domain.Template),
		now:       time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeStore) validateRefs(in domain.Schedule) error {
	if in.ListID != domain.AllRecipients {
		if _, ok := f.lists[in.ListID]; !ok {
			return sqlite.ErrListNotFound
		}
	}
	if _, ok := f.templates[in.TemplateID]; !ok {
		return sqlite.ErrTemplateNotFound
	}
	return nil
}

func (f *fakeStore) CreateSchedule(ctx context.Context, in domain.Schedule) (domain.Schedule, error) {
	if f.failWith != nil {
		return domain.Schedule{}, f.failWith
	}
	if err := f.validateRefs(in); err != nil {
		return domain.Schedule{}, err
	}
	in.ID = uuid.New()
	in.CreatedAt = f.now
	in.NextSend = recurrence.Next(in.Rule, in.AnchorDate, in.SendTime, nil)
	f.schedules[in.ID] = in
	return in, nil
}

func (f *fakeStore) UpdateSchedule(ctx context.Context, in domain.Schedule) (domain.Schedule, error) {
	existing, ok := f.schedules[in.ID]
	if !ok {
		return domain.Schedule{}, sqlite.ErrNotFound
	}
	if err := f.validateRefs(in); err != nil {
		return domain.Schedule{}, err
	}
	in.LastSent = existing.LastSent
	in.Active = existing.Active
	in.CreatedAt = existing.CreatedAt
	in.NextSend = recurrence.Next(in.Rule, in.AnchorDate, in.SendTime, in.LastSent)
	f.schedules[in.ID] = in
	return in, nil
}

func (f *fakeStore) GetSchedule(ctx context.Context, id uuid.UUID) (domain.Schedule, error) {
	s, ok := f.schedules[id]
	if !ok {
		return domain.Schedule{}, sqlite.ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) ListSchedules(ctx context.Context) ([]sqlite.ScheduleWithNames, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	var out []sqlite.ScheduleWithNames
	for _, s := range f.schedules {
		out = append(out, sqlite.ScheduleWithNames{Schedule: s})
	}
	return out, nil
}

func (f *fakeStore) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	if _, ok := f.schedules[id]; !ok {
		return sqlite.ErrNotFound
	}
	delete(f.schedules, id)
	return nil
}

func (f *fakeStore) SetScheduleActive(ctx context.Context, id uuid.UUID, active bool) error {
	s, ok := f.schedules[id]
	if !ok {
		return sqlite.ErrNotFound
	}
	s.Active = active
	f.schedules[id] = s
	return nil
}

func (f *fakeStore) ActiveSchedules(ctx context.Context) ([]domain.Schedule, error) {
	var out []domain.Schedule
	for _, s := range f.schedules {
		if s.Active {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateList(ctx context.Context, name string) (domain.RecipientList, error) {
	l := domain.RecipientList{ID: uuid.New(), Name: name, CreatedAt: f.now}
	f.lists[l.ID] = l
	return l, nil
}

func (f *fakeStore) Lists(ctx context.Context) ([]domain.RecipientList, error) {
	var out []domain.RecipientList
	for _, l := range f.lists {
		out = append(out, l)
	}
	return out, nil
}

func (f *fakeStore) CreateTemplate(ctx context.Context, name string) (domain.Template, error) {
	t := domain.Template{ID: uuid.New(), Name: name, CreatedAt: f.now}
	f.templates[t.ID] = t
	return t, nil
}

func (f *fakeStore) Templates(ctx context.Context) ([]domain.Template, error) {
	var out []domain.Template
	for _, t := range f.templates {
		out = append(out, t)
	}
	return out, nil
}

var _ Store = (*fakeStore)(nil)

func newTestHandler(store Store) *Handler {
	return NewHandler(store, zerolog.Nop())
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func seedTemplate(t *testing.T, store *fakeStore) domain.Template {
	t.Helper()
	tmpl, err := store.CreateTemplate(context.Background(), "digest template")
	if err != nil {
		t.Fatalf("seed template: %v", err)
	}
	return tmpl
}

func TestCreateSchedule_Created(t *testing.T) {
	store := newFakeStore()
	tmpl := seedTemplate(t, store)
	h := newTestHandler(store)

	req := ScheduleRequest{
		Name:       "weekly digest",
		Rule:       "weekly",
		AnchorDate: "2024-03-04",
		SendHour:   9,
		ListID:     "all",
		TemplateID: tmpl.ID.String(),
	}
	rec := doJSON(t, h, http.MethodPost, "/schedules", req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp ScheduleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ListID != "all" || resp.ListName != domain.AllRecipientsName {
		t.Errorf("list presentation = %q/%q", resp.ListID, resp.ListName)
	}
	if resp.NextSend != "2024-03-11T09:00:00Z" {
		t.Errorf("next_send = %q", resp.NextSend)
	}
	if !resp.Active {
		t.Error("created schedule should be active")
	}
}

func TestCreateSchedule_UnknownTemplateIs400(t *testing.T) {
	store := newFakeStore()
	h := newTestHandler(store)

	req := ScheduleRequest{
		Name:       "weekly digest",
		Rule:       "weekly",
		AnchorDate: "2024-03-04",
		SendHour:   9,
		ListID:     "all",
		TemplateID: uuid.NewString(),
	}
	rec := doJSON(t, h, http.MethodPost, "/schedules", req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateSchedule_BadJSONIs400(t *testing.T) {
	h := newTestHandler(newFakeStore())

	req := httptest.NewRequest(http.MethodPost, "/schedules", bytes.NewBufferString("{nope"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateSchedule_OversizedBodyIs413(t *testing.T) {
	h := newTestHandler(newFakeStore())

	var big bytes.Buffer
	big.WriteString(`{"name":"`)
	big.Write(bytes.Repeat([]byte("a"), maxRequestBodySize+1))
	big.WriteString(`"}`)
	req := httptest.NewRequest(http.MethodPost, "/schedules", &big)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestGetSchedule_NotFound(t *testing.T) {
	h := newTestHandler(newFakeStore())

	rec := doJSON(t, h, http.MethodGet, "/schedules/"+uuid.NewString(), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGetSchedule_InvalidIDIs400(t *testing.T) {
	h := newTestHandler(newFakeStore())

	rec := doJSON(t, h, http.MethodGet, "/schedules/not-a-uuid", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestUpdateSchedule_RecomputesNextSend(t *testing.T) {
	store := newFakeStore()
	tmpl := seedTemplate(t, store)
	h := newTestHandler(store)

	created, err := store.CreateSchedule(context.Background(), domain.Schedule{
		Name:       "digest",
		Rule:       domain.RuleWeekly,
		AnchorDate: time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC),
		SendTime:   domain.TimeOfDay{Hour: 9},
		ListID:     domain.AllRecipients,
		TemplateID: tmpl.ID,
		Active:     true,
	})
	if err != nil {
		t.Fatalf("seed schedule: %v", err)
	}

	req := ScheduleRequest{
		Name:       "digest",
		Rule:       "daily",
		AnchorDate: "2024-03-04",
		SendHour:   7,
		ListID:     "all",
		TemplateID: tmpl.ID.String(),
	}
	rec := doJSON(t, h, http.MethodPut, "/schedules/"+created.ID.String(), req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp ScheduleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Rule != "daily" {
		t.Errorf("rule = %q", resp.Rule)
	}
	if resp.NextSend != "2024-03-05T07:00:00Z" {
		t.Errorf("next_send = %q", resp.NextSend)
	}
}

func TestToggleSchedule_Deactivates(t *testing.T) {
	store := newFakeStore()
	tmpl := seedTemplate(t, store)
	h := newTestHandler(store)

	created, err := store.CreateSchedule(context.Background(), domain.Schedule{
		Name:       "digest",
		Rule:       domain.RuleDaily,
		AnchorDate: time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC),
		SendTime:   domain.TimeOfDay{Hour: 9},
		ListID:     domain.AllRecipients,
		TemplateID: tmpl.ID,
		Active:     true,
	})
	if err != nil {
		t.Fatalf("seed schedule: %v", err)
	}

	rec := doJSON(t, h, http.MethodPost, "/schedules/"+created.ID.String()+"/toggle", ToggleRequest{Active: false})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp ScheduleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Active {
		t.Error("schedule should be inactive after toggle")
	}
}

func TestDeleteSchedule_NoContentThen404(t *testing.T) {
	store := newFakeStore()
	tmpl := seedTemplate(t, store)
	h := newTestHandler(store)

	created, err := store.CreateSchedule(context.Background(), domain.Schedule{
		Name:       "digest",
		Rule:       domain.RuleDaily,
		AnchorDate: time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC),
		SendTime:   domain.TimeOfDay{Hour: 9},
		ListID:     domain.AllRecipients,
		TemplateID: tmpl.ID,
		Active:     true,
	})
	if err != nil {
		t.Fatalf("seed schedule: %v", err)
	}

	rec := doJSON(t, h, http.MethodDelete, "/schedules/"+created.ID.String(), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	rec = doJSON(t, h, http.MethodDelete, "/schedules/"+created.ID.String(), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rec.Code)
	}
}

func TestCalendar_ProjectsWeeklyMondays(t *testing.T) {
	store := newFakeStore()
	tmpl := seedTemplate(t, store)
	h := newTestHandler(store)

	_, err := store.CreateSchedule(context.Background(), domain.Schedule{
		Name:       "monday digest",
		Rule:       domain.RuleWeekly,
		AnchorDate: time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC),
		SendTime:   domain.TimeOfDay{Hour: 9},
		ListID:     domain.AllRecipients,
		TemplateID: tmpl.ID,
		Active:     true,
	})
	if err != nil {
		t.Fatalf("seed schedule: %v", err)
	}

	rec := doJSON(t, h, http.MethodGet, "/calendar?year=2024&month=4", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp CalendarResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	// April 2024 has five Mondays.
	if len(resp.Days) != 5 {
		t.Fatalf("days with occurrences = %d, want 5", len(resp.Days))
	}
	occs, ok := resp.Days["2024-04-01"]
	if !ok || len(occs) != 1 {
		t.Fatalf("missing occurrence on 2024-04-01: %v", resp.Days)
	}
	if occs[0].SendTime != "09:00" {
		t.Errorf("send_time = %q", occs[0].SendTime)
	}
}

func TestCalendar_BadQueryIs400(t *testing.T) {
	h := newTestHandler(newFakeStore())

	for _, path := range []string{
		"/calendar",
		"/calendar?year=2024",
		"/calendar?year=2024&month=13",
		"/calendar?year=abc&month=4",
	} {
		rec := doJSON(t, h, http.MethodGet, path, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, rec.Code)
		}
	}
}

func TestListsAndTemplates_RoundTrip(t *testing.T) {
	store := newFakeStore()
	h := newTestHandler(store)

	rec := doJSON(t, h, http.MethodPost, "/lists", NameRequest{Name: "beta testers"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create list status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/templates", NameRequest{Name: "plain digest"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create template status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/lists", nil)
	var lists ListsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &lists); err != nil {
		t.Fatalf("decode lists: %v", err)
	}
	if len(lists.Lists) != 1 || lists.Lists[0].Name != "beta testers" {
		t.Errorf("lists = %+v", lists.Lists)
	}

	rec = doJSON(t, h, http.MethodGet, "/templates", nil)
	var templates TemplatesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &templates); err != nil {
		t.Fatalf("decode templates: %v", err)
	}
	if len(templates.Templates) != 1 || templates.Templates[0].Name != "plain digest" {
		t.Errorf("templates = %+v", templates.Templates)
	}
}

func TestCreateList_EmptyNameIs400(t *testing.T) {
	h := newTestHandler(newFakeStore())

	rec := doJSON(t, h, http.MethodPost, "/lists", NameRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHealth_Simple(t *testing.T) {
	h := newTestHandler(newFakeStore())

	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

type failingPinger struct{}

func (failingPinger) Ping(ctx context.Context) error { return errors.New("disk gone") }

type okPinger struct{}

func (okPinger) Ping(ctx context.Context) error { return nil }

func TestHealth_VerboseDegraded(t *testing.T) {
	h := newTestHandler(newFakeStore()).WithHealthChecker(failingPinger{})

	rec := doJSON(t, h, http.MethodGet, "/health?verbose=true", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "degraded" {
		t.Errorf("status = %q", resp.Status)
	}
}

func TestHealth_VerboseHealthy(t *testing.T) {
	h := newTestHandler(newFakeStore()).WithHealthChecker(okPinger{})

	rec := doJSON(t, h, http.MethodGet, "/health?verbose=true", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

type mapStats map[string]any

func (m mapStats) Get(key string) (any, bool) {
	v, ok := m[key]
	return v, ok
}

func TestStats_ServesConfiguredKeys(t *testing.T) {
	stats := mapStats{"totals": map[string]any{"schedules": 3.0}, "hidden": 1}
	h := newTestHandler(newFakeStore()).WithStats(stats, "totals", "missing")

	rec := doJSON(t, h, http.MethodGet, "/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := resp["totals"]; !ok {
		t.Error("configured key not served")
	}
	if _, ok := resp["hidden"]; ok {
		t.Error("unconfigured key leaked")
	}
	if _, ok := resp["missing"]; ok {
		t.Error("absent key should be omitted")
	}
}

func TestChart_RendersCachedStats(t *testing.T) {
	stats := mapStats{"totals": map[string]int{"schedules": 3, "lists": 2}}
	h := newTestHandler(newFakeStore()).
		WithStats(stats, "totals").
		WithCharts(charts.NewSerialized(charts.NewSVGCapturer()))

	rec := doJSON(t, h, http.MethodGet, "/charts/totals", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/svg+xml" {
		t.Errorf("content type = %q", ct)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("<svg")) {
		t.Error("body is not svg")
	}
}

func TestChart_UnknownKeyIs404(t *testing.T) {
	stats := mapStats{"totals": map[string]int{"schedules": 3}}
	h := newTestHandler(newFakeStore()).
		WithStats(stats, "totals").
		WithCharts(charts.NewSerialized(charts.NewSVGCapturer()))

	rec := doJSON(t, h, http.MethodGet, "/charts/secrets", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestChart_DisabledIs404(t *testing.T) {
	h := newTestHandler(newFakeStore())

	rec := doJSON(t, h, http.MethodGet, "/charts/totals", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	h := newTestHandler(newFakeStore())

	rec := doJSON(t, h, http.MethodGet, "/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPatch, "/schedules", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("PATCH status = %d, want 404", rec.Code)
	}
}

func TestListSchedules_StoreErrorIs500(t *testing.T) {
	store := newFakeStore()
	store.failWith = fmt.Errorf("database locked")
	h := newTestHandler(store)

	rec := doJSON(t, h, http.MethodGet, "/schedules", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}
