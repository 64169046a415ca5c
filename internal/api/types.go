package api

import "time"

type ScheduleRequest struct {
	Name       string `json:"name"`
	Rule       string `json:"rule"`
	AnchorDate string `json:"anchor_date"` // YYYY-MM-DD
	SendHour   int    `json:"send_hour"`
	SendMinute int    `json:"send_minute"`

	// ListID is a list UUID or "all" for the built-in everyone group.
	ListID     string `json:"list_id"`
	TemplateID string `json:"template_id"`

	DaysBack  int `json:"days_back,omitempty"`  // default 30
	ItemCount int `json:"item_count,omitempty"` // default 10
}

type ScheduleResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Rule         string `json:"rule"`
	AnchorDate   string `json:"anchor_date"`
	SendHour     int    `json:"send_hour"`
	SendMinute   int    `json:"send_minute"`
	ListID       string `json:"list_id"`
	ListName     string `json:"list_name,omitempty"`
	TemplateID   string `json:"template_id"`
	TemplateName string `json:"template_name,omitempty"`
	DaysBack     int    `json:"days_back"`
	ItemCount    int    `json:"item_count"`
	LastSent     string `json:"last_sent,omitempty"`
	NextSend     string `json:"next_send"`
	Active       bool   `json:"active"`
	CreatedAt    string `json:"created_at"`
}

type ListSchedulesResponse struct {
	Schedules []ScheduleResponse `json:"schedules"`
}

type ToggleRequest struct {
	Active bool `json:"active"`
}

type NameRequest struct {
	Name string `json:"name"`
}

type NamedResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

type ListsResponse struct {
	Lists []NamedResponse `json:"lists"`
}

type TemplatesResponse struct {
	Templates []NamedResponse `json:"templates"`
}

// CalendarResponse maps ISO dates to the occurrences landing on that day.
type CalendarResponse struct {
	Year  int                             `json:"year"`
	Month int                             `json:"month"`
	Days  map[string][]OccurrenceResponse `json:"days"`
}

type OccurrenceResponse struct {
	ScheduleID string `json:"schedule_id"`
	Name       string `json:"name"`
	Rule       string `json:"rule"`
	SendTime   string `json:"send_time"` // HH:MM
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
