// Package delivery defines the delivery callback the dispatch loop fires and
// an HTTP client for an external mailer service. The mailer owns recipient
// resolution, template rendering and transport; the scheduler only hands it
// the schedule's references.
package delivery

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jma1ice/newsletterr/internal/domain"
)

// Deliverer renders and sends one newsletter for a schedule.
type Deliverer interface {
	Deliver(ctx context.Context, sched domain.Schedule) error
}

// AllRecipientsRef is the wire value for the sentinel list reference.
const AllRecipientsRef = "all"

// SendRequest is the payload posted to the mailer.
type SendRequest struct {
	ScheduleID  string `json:"schedule_id"`
	ListID      string `json:"list_id"`
	TemplateID  string `json:"template_id"`
	DaysBack    int    `json:"days_back"`
	ItemCount   int    `json:"item_count"`
	ScheduledAt string `json:"scheduled_at"`
}

// HTTPMailer posts send requests to a mailer endpoint with an HMAC-SHA256
// signature. Every request carries its own timeout so a hung mailer cannot
// freeze the dispatch loop.
type HTTPMailer struct {
	url     string
	secret  string
	timeout time.Duration
	client  *http.Client
	clock   func() time.Time
}

// DefaultTimeout applies when no timeout is configured.
const DefaultTimeout = 30 * time.Second

func NewHTTPMailer(url, secret string, timeout time.Duration) *HTTPMailer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPMailer{
		url:     url,
		secret:  secret,
		timeout: timeout,
		client:  &http.Client{},
		clock:   time.Now,
	}
}

// Deliver posts the send request and treats any non-2xx response as failure.
// Headers: X-Newsletterr-Schedule-ID, X-Newsletterr-Signature.
func (m *HTTPMailer) Deliver(ctx context.Context, sched domain.Schedule) error {
	listRef := sched.ListID.String()
	if sched.ListID == domain.AllRecipients {
		listRef = AllRecipientsRef
	}

	payload := SendRequest{
		ScheduleID:  sched.ID.String(),
		ListID:      listRef,
		TemplateID:  sched.TemplateID.String(),
		DaysBack:    sched.DaysBack,
		ItemCount:   sched.ItemCount,
		ScheduledAt: sched.NextSend.Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal send request: %w", err)
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Newsletterr-Schedule-ID", sched.ID.String())
	req.Header.Set("X-Newsletterr-Signature", computeSignature(m.secret, body))

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("mailer returned status %d", resp.StatusCode)
	}
	return nil
}

func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature lets the mailer verify incoming send requests.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := computeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

var _ Deliverer = (*HTTPMailer)(nil)
