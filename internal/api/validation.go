package api

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jma1ice/newsletterr/internal/domain"
)

// Defaults applied when a request omits the content window.
const (
	DefaultDaysBack  = 30
	DefaultItemCount = 10
)

const anchorLayout = "2006-01-02"

// parseScheduleRequest validates a request and converts it to a domain
// schedule. ID, timestamps and dispatch state are left for the store.
func parseScheduleRequest(req ScheduleRequest) (domain.Schedule, error) {
	if req.Name == "" {
		return domain.Schedule{}, fmt.Errorf("name is required")
	}

	rule, err := domain.ParseRule(req.Rule)
	if err != nil {
		return domain.Schedule{}, fmt.Errorf("invalid rule: %w", err)
	}

	if req.AnchorDate == "" {
		return domain.Schedule{}, fmt.Errorf("anchor_date is required")
	}
	anchor, err := time.Parse(anchorLayout, req.AnchorDate)
	if err != nil {
		return domain.Schedule{}, fmt.Errorf("invalid anchor_date: must be YYYY-MM-DD")
	}

	sendTime := domain.TimeOfDay{Hour: req.SendHour, Minute: req.SendMinute}
	if err := sendTime.Validate(); err != nil {
		return domain.Schedule{}, err
	}

	listID, err := parseListRef(req.ListID)
	if err != nil {
		return domain.Schedule{}, err
	}

	if req.TemplateID == "" {
		return domain.Schedule{}, fmt.Errorf("template_id is required")
	}
	templateID, err := uuid.Parse(req.TemplateID)
	if err != nil {
		return domain.Schedule{}, fmt.Errorf("invalid template_id")
	}

	daysBack := req.DaysBack
	if daysBack == 0 {
		daysBack = DefaultDaysBack
	}
	if daysBack < 0 {
		return domain.Schedule{}, fmt.Errorf("days_back must be positive")
	}

	itemCount := req.ItemCount
	if itemCount == 0 {
		itemCount = DefaultItemCount
	}
	if itemCount < 0 {
		return domain.Schedule{}, fmt.Errorf("item_count must be positive")
	}

	return domain.Schedule{
		Name:       req.Name,
		Rule:       rule,
		AnchorDate: anchor,
		SendTime:   sendTime,
		ListID:     listID,
		TemplateID: templateID,
		DaysBack:   daysBack,
		ItemCount:  itemCount,
		Active:     true,
	}, nil
}

// parseListRef accepts a list UUID or the "all" sentinel.
func parseListRef(ref string) (uuid.UUID, error) {
	if ref == "" {
		return uuid.Nil, fmt.Errorf("list_id is required (use %q for everyone)", allListRef)
	}
	if ref == allListRef {
		return domain.AllRecipients, nil
	}
	id, err := uuid.Parse(ref)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid list_id")
	}
	if id == domain.AllRecipients {
		return uuid.Nil, fmt.Errorf("invalid list_id")
	}
	return id, nil
}

// allListRef is the wire spelling of the built-in everyone group.
const allListRef = "all"

func validateName(req NameRequest) error {
	if req.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(req.Name) > 200 {
		return fmt.Errorf("name exceeds 200 characters")
	}
	return nil
}
