package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jma1ice/newsletterr/internal/calendar"
	"github.com/jma1ice/newsletterr/internal/charts"
	"github.com/jma1ice/newsletterr/internal/domain"
	"github.com/jma1ice/newsletterr/internal/store/sqlite"
)

type Store interface {
	CreateSchedule(ctx context.Context, in domain.Schedule) (domain.Schedule, error)
	UpdateSchedule(ctx context.Context, in domain.Schedule) (domain.Schedule, error)
	GetSchedule(ctx context.Context, id uuid.UUID) (domain.Schedule, error)
	ListSchedules(ctx context.Context) ([]sqlite.ScheduleWithNames, error)
	DeleteSchedule(ctx context.Context, id uuid.UUID) error
	SetScheduleActive(ctx context.Context, id uuid.UUID, active bool) error
	ActiveSchedules(ctx context.Context) ([]domain.Schedule, error)

	CreateList(ctx context.Context, name string) (domain.RecipientList, error)
	Lists(ctx context.Context) ([]domain.RecipientList, error)
	CreateTemplate(ctx context.Context, name string) (domain.Template, error)
	Templates(ctx context.Context) ([]domain.Template, error)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// StatsReader serves precomputed dashboard statistics.
type StatsReader interface {
	Get(key string) (any, bool)
}

type Handler struct {
	store    Store
	log      zerolog.Logger
	db       HealthChecker
	stats    StatsReader
	keys     []string
	capturer charts.Capturer
}

func NewHandler(store Store, log zerolog.Logger) *Handler {
	return &Handler{store: store, log: log.With().Str("component", "api").Logger()}
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

// WithStats exposes the named cache entries on /stats.
func (h *Handler) WithStats(stats StatsReader, keys ...string) *Handler {
	h.stats = stats
	h.keys = keys
	return h
}

// WithCharts enables /charts/{key} rendering of cached stat entries.
func (h *Handler) WithCharts(capturer charts.Capturer) *Handler {
	h.capturer = capturer
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/stats" && r.Method == http.MethodGet:
		h.getStats(w, r)

	case path == "/calendar" && r.Method == http.MethodGet:
		h.getCalendar(w, r)

	case strings.HasPrefix(path, "/charts/") && r.Method == http.MethodGet:
		h.getChart(w, r)

	case path == "/schedules" && r.Method == http.MethodPost:
		h.createSchedule(w, r)

	case path == "/schedules" && r.Method == http.MethodGet:
		h.listSchedules(w, r)

	case strings.HasSuffix(path, "/toggle") && r.Method == http.MethodPost:
		h.toggleSchedule(w, r)

	case strings.HasPrefix(path, "/schedules/") && r.Method == http.MethodGet:
		h.getSchedule(w, r)

	case strings.HasPrefix(path, "/schedules/") && r.Method == http.MethodPut:
		h.updateSchedule(w, r)

	case strings.HasPrefix(path, "/schedules/") && r.Method == http.MethodDelete:
		h.deleteSchedule(w, r)

	case path == "/lists" && r.Method == http.MethodGet:
		h.listLists(w, r)

	case path == "/lists" && r.Method == http.MethodPost:
		h.createList(w, r)

	case path == "/templates" && r.Method == http.MethodGet:
		h.listTemplates(w, r)

	case path == "/templates" && r.Method == http.MethodPost:
		h.createTemplate(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	out := make(map[string]any, len(h.keys))
	for _, key := range h.keys {
		if v, ok := h.stats.Get(key); ok {
			out[key] = v
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// getChart renders a cached stat entry as an SVG bar chart. Only keys served
// on /stats are renderable.
func (h *Handler) getChart(w http.ResponseWriter, r *http.Request) {
	if h.capturer == nil || h.stats == nil {
		writeError(w, http.StatusNotFound, "charts not enabled")
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/charts/")
	allowed := false
	for _, k := range h.keys {
		if k == key {
			allowed = true
			break
		}
	}
	if !allowed {
		writeError(w, http.StatusNotFound, "unknown chart")
		return
	}

	value, ok := h.stats.Get(key)
	if !ok {
		writeError(w, http.StatusNotFound, "no data yet")
		return
	}

	spec, err := json.Marshal(value)
	if err != nil {
		h.log.Error().Err(err).Str("chart", key).Msg("marshal chart spec")
		writeError(w, http.StatusInternalServerError, "failed to render chart")
		return
	}

	img, err := h.capturer.Capture(r.Context(), key, spec)
	if err != nil {
		h.log.Error().Err(err).Str("chart", key).Msg("render chart")
		writeError(w, http.StatusUnprocessableEntity, "stat entry is not chartable")
		return
	}

	w.Header().Set("Content-Type", "image/svg+xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func (h *Handler) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if !h.decode(w, r, &req) {
		return
	}

	sched, err := parseScheduleRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.store.CreateSchedule(r.Context(), sched)
	if err != nil {
		if errors.Is(err, sqlite.ErrListNotFound) || errors.Is(err, sqlite.ErrTemplateNotFound) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error().Err(err).Msg("create schedule")
		writeError(w, http.StatusInternalServerError, "failed to create schedule")
		return
	}

	writeJSON(w, http.StatusCreated, scheduleResponse(created, "", ""))
}

func (h *Handler) listSchedules(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.ListSchedules(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("list schedules")
		writeError(w, http.StatusInternalServerError, "failed to list schedules")
		return
	}

	resp := ListSchedulesResponse{Schedules: make([]ScheduleResponse, len(items))}
	for i, item := range items {
		resp.Schedules[i] = scheduleResponse(item.Schedule, item.ListName, item.TemplateName)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := scheduleID(w, r, 2)
	if !ok {
		return
	}

	sched, err := h.store.GetSchedule(r.Context(), id)
	if errors.Is(err, sqlite.ErrNotFound) {
		writeError(w, http.StatusNotFound, "schedule not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("get schedule")
		writeError(w, http.StatusInternalServerError, "failed to load schedule")
		return
	}
	writeJSON(w, http.StatusOK, scheduleResponse(sched, "", ""))
}

func (h *Handler) updateSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := scheduleID(w, r, 2)
	if !ok {
		return
	}

	var req ScheduleRequest
	if !h.decode(w, r, &req) {
		return
	}

	sched, err := parseScheduleRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sched.ID = id

	updated, err := h.store.UpdateSchedule(r.Context(), sched)
	if err != nil {
		switch {
		case errors.Is(err, sqlite.ErrNotFound):
			writeError(w, http.StatusNotFound, "schedule not found")
		case errors.Is(err, sqlite.ErrListNotFound), errors.Is(err, sqlite.ErrTemplateNotFound):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.log.Error().Err(err).Msg("update schedule")
			writeError(w, http.StatusInternalServerError, "failed to update schedule")
		}
		return
	}
	writeJSON(w, http.StatusOK, scheduleResponse(updated, "", ""))
}

func (h *Handler) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := scheduleID(w, r, 2)
	if !ok {
		return
	}

	if err := h.store.DeleteSchedule(r.Context(), id); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			writeError(w, http.StatusNotFound, "schedule not found")
			return
		}
		h.log.Error().Err(err).Msg("delete schedule")
		writeError(w, http.StatusInternalServerError, "failed to delete schedule")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) toggleSchedule(w http.ResponseWriter, r *http.Request) {
	// Path: /schedules/{id}/toggle
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[0] != "schedules" || parts[2] != "toggle" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid schedule id")
		return
	}

	var req ToggleRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.store.SetScheduleActive(r.Context(), id, req.Active); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			writeError(w, http.StatusNotFound, "schedule not found")
			return
		}
		h.log.Error().Err(err).Msg("toggle schedule")
		writeError(w, http.StatusInternalServerError, "failed to toggle schedule")
		return
	}

	sched, err := h.store.GetSchedule(r.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Msg("reload toggled schedule")
		writeError(w, http.StatusInternalServerError, "failed to load schedule")
		return
	}
	writeJSON(w, http.StatusOK, scheduleResponse(sched, "", ""))
}

func (h *Handler) getCalendar(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil || year < 1 || year > 9999 {
		writeError(w, http.StatusBadRequest, "year must be a four digit number")
		return
	}
	month, err := strconv.Atoi(r.URL.Query().Get("month"))
	if err != nil || month < 1 || month > 12 {
		writeError(w, http.StatusBadRequest, "month must be 1-12")
		return
	}

	schedules, err := h.store.ActiveSchedules(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("load schedules for calendar")
		writeError(w, http.StatusInternalServerError, "failed to build calendar")
		return
	}

	days := calendar.OccurrencesInMonth(schedules, year, time.Month(month))
	resp := CalendarResponse{
		Year:  year,
		Month: month,
		Days:  make(map[string][]OccurrenceResponse, len(days)),
	}
	for day, occs := range days {
		out := make([]OccurrenceResponse, len(occs))
		for i, occ := range occs {
			out[i] = OccurrenceResponse{
				ScheduleID: occ.ScheduleID.String(),
				Name:       occ.Name,
				Rule:       occ.Rule.String(),
				SendTime:   occ.SendTime.String(),
			}
		}
		resp.Days[day] = out
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listLists(w http.ResponseWriter, r *http.Request) {
	lists, err := h.store.Lists(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("list recipient lists")
		writeError(w, http.StatusInternalServerError, "failed to list recipient lists")
		return
	}
	resp := ListsResponse{Lists: make([]NamedResponse, len(lists))}
	for i, l := range lists {
		resp.Lists[i] = NamedResponse{ID: l.ID.String(), Name: l.Name, CreatedAt: formatTime(l.CreatedAt)}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) createList(w http.ResponseWriter, r *http.Request) {
	var req NameRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := validateName(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	l, err := h.store.CreateList(r.Context(), req.Name)
	if err != nil {
		h.log.Error().Err(err).Msg("create recipient list")
		writeError(w, http.StatusInternalServerError, "failed to create recipient list")
		return
	}
	writeJSON(w, http.StatusCreated, NamedResponse{ID: l.ID.String(), Name: l.Name, CreatedAt: formatTime(l.CreatedAt)})
}

func (h *Handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.store.Templates(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("list templates")
		writeError(w, http.StatusInternalServerError, "failed to list templates")
		return
	}
	resp := TemplatesResponse{Templates: make([]NamedResponse, len(templates))}
	for i, t := range templates {
		resp.Templates[i] = NamedResponse{ID: t.ID.String(), Name: t.Name, CreatedAt: formatTime(t.CreatedAt)}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) createTemplate(w http.ResponseWriter, r *http.Request) {
	var req NameRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := validateName(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, err := h.store.CreateTemplate(r.Context(), req.Name)
	if err != nil {
		h.log.Error().Err(err).Msg("create template")
		writeError(w, http.StatusInternalServerError, "failed to create template")
		return
	}
	writeJSON(w, http.StatusCreated, NamedResponse{ID: t.ID.String(), Name: t.Name, CreatedAt: formatTime(t.CreatedAt)})
}

// scheduleID extracts the UUID path segment at index 1 of /schedules/{id}.
func scheduleID(w http.ResponseWriter, r *http.Request, segments int) (uuid.UUID, bool) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != segments || parts[0] != "schedules" {
		writeError(w, http.StatusNotFound, "not found")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid schedule id")
		return uuid.Nil, false
	}
	return id, true
}

func scheduleResponse(s domain.Schedule, listName, templateName string) ScheduleResponse {
	listRef := s.ListID.String()
	if s.ListID == domain.AllRecipients {
		listRef = allListRef
		listName = domain.AllRecipientsName
	}

	resp := ScheduleResponse{
		ID:           s.ID.String(),
		Name:         s.Name,
		Rule:         s.Rule.String(),
		AnchorDate:   s.AnchorDate.Format(anchorLayout),
		SendHour:     s.SendTime.Hour,
		SendMinute:   s.SendTime.Minute,
		ListID:       listRef,
		ListName:     listName,
		TemplateID:   s.TemplateID.String(),
		TemplateName: templateName,
		DaysBack:     s.DaysBack,
		ItemCount:    s.ItemCount,
		NextSend:     formatTime(s.NextSend),
		Active:       s.Active,
		CreatedAt:    formatTime(s.CreatedAt),
	}
	if s.LastSent != nil {
		resp.LastSent = formatTime(*s.LastSent)
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
