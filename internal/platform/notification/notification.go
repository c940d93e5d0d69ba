// Package notification delivers operational events (result ready, critical
// value) to downstream systems over HTTP webhooks, with template rendering,
// in-memory history, retry, and Echo HTTP handlers.
package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// Notification
// ---------------------------------------------------------------------------

// Notification represents a single outbound event delivery.
type Notification struct {
	ID           string            `json:"id"`
	Event        string            `json:"event"` // result-ready, critical-value
	Subject      string            `json:"subject"`
	Body         string            `json:"body"`
	TemplateData map[string]string `json:"template_data,omitempty"`
	Status       string            `json:"status"` // pending, sent, failed
	CreatedAt    time.Time         `json:"created_at"`
	SentAt       *time.Time        `json:"sent_at,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// ---------------------------------------------------------------------------
// Sender
// ---------------------------------------------------------------------------

// Sender delivers a rendered notification to its destination.
type Sender interface {
	Send(ctx context.Context, n *Notification) error
}

// WebhookSender posts notifications as JSON to a configured HTTP endpoint.
type WebhookSender struct {
	client *resty.Client
	url    string
}

// NewWebhookSender creates a sender targeting url. retries is the number of
// automatic retransmissions on transport errors.
func NewWebhookSender(url string, timeout time.Duration, retries int) *WebhookSender {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(500 * time.Millisecond)
	return &WebhookSender{client: client, url: url}
}

// Send posts the notification. Non-2xx responses are errors.
func (w *WebhookSender) Send(ctx context.Context, n *Notification) error {
	if w.url == "" {
		return errors.New("notification: webhook URL not configured")
	}

	resp, err := w.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(n).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("notification: post webhook: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return fmt.Errorf("notification: webhook returned %d", resp.StatusCode())
	}
	return nil
}

// ---------------------------------------------------------------------------
// Template Engine
// ---------------------------------------------------------------------------

// Template defines a reusable notification template.
type Template struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      "result-ready",
			Name:    "Lab Result Ready",
			Subject: "Results ready for order {{order_no}}",
			Body:    "All results for order {{order_no}} (patient {{patient_id}}) have been approved and are available.",
		},
		{
			ID:      "critical-value",
			Name:    "Critical Value Alert",
			Subject: "CRITICAL: {{test_code}} for patient {{patient_id}}",
			Body:    "Test {{test_code}} returned {{value}} ({{classification}}) for patient {{patient_id}}. Immediate review required.",
		},
		{
			ID:      "analyzer-fault",
			Name:    "Analyzer Connection Fault",
			Subject: "Analyzer {{analyzer_code}} connection error",
			Body:    "Analyzer {{analyzer_code}} reported: {{detail}}",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// ---------------------------------------------------------------------------
// Mock Sender (test double)
// ---------------------------------------------------------------------------

// MockSender is a test double for Sender.
type MockSender struct {
	mu         sync.Mutex
	calls      []Notification
	ShouldFail bool
	FailError  string
}

// Send records the call and optionally returns an error.
func (m *MockSender) Send(_ context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, *n)
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded sends.
func (m *MockSender) Calls() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Notification, len(m.calls))
	copy(out, m.calls)
	return out
}

// ---------------------------------------------------------------------------
// Notifier
// ---------------------------------------------------------------------------

// Notifier orchestrates rendering, sending, storage and retry of
// notifications.
type Notifier struct {
	sender        Sender
	templates     *TemplateEngine
	logger        zerolog.Logger
	mu            sync.RWMutex
	notifications map[string]*Notification
}

// NewNotifier constructs a Notifier.
func NewNotifier(sender Sender, tpl *TemplateEngine, logger zerolog.Logger) *Notifier {
	return &Notifier{
		sender:        sender,
		templates:     tpl,
		logger:        logger.With().Str("component", "notifier").Logger(),
		notifications: make(map[string]*Notification),
	}
}

// Send renders the template, dispatches the notification, and records the
// outcome in memory.
func (n *Notifier) Send(ctx context.Context, event string, data map[string]string) (*Notification, error) {
	subject, body, err := n.templates.Render(event, data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	notif := &Notification{
		ID:           uuid.New().String(),
		Event:        event,
		Subject:      subject,
		Body:         body,
		TemplateData: data,
		Status:       "pending",
		CreatedAt:    time.Now().UTC(),
	}

	sendErr := n.sender.Send(ctx, notif)
	if sendErr != nil {
		notif.Status = "failed"
		notif.Error = sendErr.Error()
	} else {
		notif.Status = "sent"
		sentAt := time.Now().UTC()
		notif.SentAt = &sentAt
	}

	n.mu.Lock()
	n.notifications[notif.ID] = notif
	n.mu.Unlock()

	return notif, sendErr
}

// NotifyAsync is the fire-and-forget entry point used by the result pipeline.
// Delivery failures are logged, never propagated to the caller.
func (n *Notifier) NotifyAsync(event string, data map[string]string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := n.Send(ctx, event, data); err != nil {
			n.logger.Warn().Err(err).Str("event", event).Msg("notification delivery failed")
		}
	}()
}

// Get retrieves a notification by ID.
func (n *Notifier) Get(_ context.Context, id string) (*Notification, error) {
	n.mu.RLock()
	notif, ok := n.notifications[id]
	n.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("notification %q not found", id)
	}
	return notif, nil
}

// ListByEvent returns notifications for a given event type, up to limit.
// An empty event matches everything.
func (n *Notifier) ListByEvent(_ context.Context, event string, limit int) ([]*Notification, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	var result []*Notification
	for _, notif := range n.notifications {
		if event == "" || notif.Event == event {
			result = append(result, notif)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

// Retry re-sends a failed notification. Returns an error if the notification
// is not in "failed" status.
func (n *Notifier) Retry(ctx context.Context, id string) error {
	n.mu.RLock()
	notif, ok := n.notifications[id]
	n.mu.RUnlock()
	if !ok {
		return fmt.Errorf("notification %q not found", id)
	}
	if notif.Status != "failed" {
		return fmt.Errorf("notification %q is not in failed status (current: %s)", id, notif.Status)
	}

	sendErr := n.sender.Send(ctx, notif)

	n.mu.Lock()
	if sendErr != nil {
		notif.Status = "failed"
		notif.Error = sendErr.Error()
	} else {
		notif.Status = "sent"
		sentAt := time.Now().UTC()
		notif.SentAt = &sentAt
		notif.Error = ""
	}
	n.mu.Unlock()

	return sendErr
}

// Stats returns counts of notifications grouped by status.
func (n *Notifier) Stats(_ context.Context) map[string]int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	stats := make(map[string]int)
	for _, notif := range n.notifications {
		stats[notif.Status]++
	}
	return stats
}

// ---------------------------------------------------------------------------
// HTTP Handler
// ---------------------------------------------------------------------------

// Handler exposes notification history and retry over HTTP via Echo.
type Handler struct {
	notifier *Notifier
}

// NewHandler creates a new notification Handler.
func NewHandler(notifier *Notifier) *Handler {
	return &Handler{notifier: notifier}
}

// RegisterRoutes registers all notification routes on the given Echo group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/notifications/stats", h.HandleStats)
	g.GET("/notifications/:id", h.HandleGet)
	g.GET("/notifications", h.HandleList)
	g.POST("/notifications/:id/retry", h.HandleRetry)
}

// HandleGet handles GET /notifications/:id.
func (h *Handler) HandleGet(c echo.Context) error {
	id := c.Param("id")
	n, err := h.notifier.Get(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, n)
}

// HandleList handles GET /notifications?event=...
func (h *Handler) HandleList(c echo.Context) error {
	event := c.QueryParam("event")
	list, err := h.notifier.ListByEvent(c.Request().Context(), event, 100)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, list)
}

// HandleRetry handles POST /notifications/:id/retry.
func (h *Handler) HandleRetry(c echo.Context) error {
	id := c.Param("id")
	if err := h.notifier.Retry(c.Request().Context(), id); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	n, _ := h.notifier.Get(c.Request().Context(), id)
	return c.JSON(http.StatusOK, n)
}

// HandleStats handles GET /notifications/stats.
func (h *Handler) HandleStats(c echo.Context) error {
	stats := h.notifier.Stats(c.Request().Context())
	return c.JSON(http.StatusOK, stats)
}
