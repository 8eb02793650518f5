package http

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
)

// NotificationType selects the toast style the frontend renders.
type NotificationType string

const (
	NotificationSuccess NotificationType = "success"
	NotificationError   NotificationType = "error"
	NotificationWarning NotificationType = "warning"
)

// How long a toast stays up before auto-dismissing.
const (
	notifyQuickMs  = 3000
	notifySlowerMs = 5000
)

// HXResponse accumulates status, headers, body and HX-Trigger
// events for an htmx fragment response. Methods chain; Write sends it.
type HXResponse struct {
	status int
	body   []byte
	header map[string]string
	events map[string]any
}

func NewHXResponse() *HXResponse {
	return &HXResponse{
		status: http.StatusOK,
		header: map[string]string{},
		events: map[string]any{},
	}
}

func (b *HXResponse) Status(code int) *HXResponse {
	b.status = code
	return b
}

// Trigger queues a client-side event for the HX-Trigger header.
func (b *HXResponse) Trigger(name string, data any) *HXResponse {
	b.events[name] = data
	return b
}

// TriggerPayoutsUpdated tells open payout tables for the run to reload.
func (b *HXResponse) TriggerPayoutsUpdated(runID int64) *HXResponse {
	return b.Trigger("payouts:updated", map[string]int64{"run_id": runID})
}

// TriggerRunChanged signals that run-level totals changed.
func (b *HXResponse) TriggerRunChanged(runID int64) *HXResponse {
	return b.Trigger("run:changed", map[string]int64{"run_id": runID})
}

// TriggerAdhocChanged signals that the ad-hoc payment list changed.
func (b *HXResponse) TriggerAdhocChanged() *HXResponse {
	return b.Trigger("adhoc:changed", struct{}{})
}

// TriggerFormReset asks the frontend to clear the submitting form.
func (b *HXResponse) TriggerFormReset() *HXResponse {
	return b.Trigger("form:reset", struct{}{})
}

// TriggerNotification shows a toast of the given kind for durationMs.
func (b *HXResponse) TriggerNotification(kind NotificationType, message string, durationMs int) *HXResponse {
	return b.Trigger("show-notification", map[string]any{
		"type":     string(kind),
		"message":  message,
		"duration": durationMs,
	})
}

func (b *HXResponse) TriggerSuccessNotification(message string) *HXResponse {
	return b.TriggerNotification(NotificationSuccess, message, notifyQuickMs)
}

func (b *HXResponse) TriggerErrorNotification(message string) *HXResponse {
	return b.TriggerNotification(NotificationError, message, notifySlowerMs)
}

func (b *HXResponse) Header(name, value string) *HXResponse {
	b.header[name] = value
	return b
}

func (b *HXResponse) Body(content []byte) *HXResponse {
	b.body = content
	return b
}

func (b *HXResponse) BodyString(content string) *HXResponse {
	return b.Body([]byte(content))
}

// BodyHTML sets an HTML fragment body with the matching content type.
func (b *HXResponse) BodyHTML(html string) *HXResponse {
	b.header["Content-Type"] = "text/html; charset=utf-8"
	return b.Body([]byte(html))
}

// Write emits the headers, the HX-Trigger event map, status and body.
func (b *HXResponse) Write(w http.ResponseWriter) {
	h := w.Header()
	for name, value := range b.header {
		h.Set(name, value)
	}
	if len(b.events) > 0 {
		if payload, err := json.Marshal(b.events); err == nil {
			h.Set("HX-Trigger", string(payload))
		}
	}
	w.WriteHeader(b.status)
	if len(b.body) > 0 {
		_, _ = w.Write(b.body)
	}
}

// ErrorResponse wraps an escaped message in the shared error fragment
// that htmx swaps into the page.
func ErrorResponse(statusCode int, message string) *HXResponse {
	return NewHXResponse().
		Status(statusCode).
		BodyHTML(fmt.Sprintf(`<div class="error">%s</div>`, template.HTMLEscapeString(message)))
}

func BadRequestError(message string) *HXResponse {
	return ErrorResponse(http.StatusBadRequest, message)
}

func UnprocessableEntityError(message string) *HXResponse {
	return ErrorResponse(http.StatusUnprocessableEntity, message)
}

func InternalServerError(message string) *HXResponse {
	return ErrorResponse(http.StatusInternalServerError, message)
}

func NotFoundError(message string) *HXResponse {
	return ErrorResponse(http.StatusNotFound, message)
}
