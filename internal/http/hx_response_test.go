package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// decodeTriggers unpacks the HX-Trigger header JSON into per-event payloads.
func decodeTriggers(t *testing.T, w *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	raw := w.Header().Get("HX-Trigger")
	if raw == "" {
		t.Fatal("HX-Trigger header not set")
	}
	events := map[string]json.RawMessage{}
	if err := json.Unmarshal([]byte(raw), &events); err != nil {
		t.Fatalf("HX-Trigger is not valid JSON: %v", err)
	}
	return events
}

func TestHXResponseDefaults(t *testing.T) {
	w := httptest.NewRecorder()
	NewHXResponse().BodyString("ok").Write(w)

	if w.Code != http.StatusOK {
		t.Errorf("default status = %d, want 200", w.Code)
	}
	if got := w.Body.String(); got != "ok" {
		t.Errorf("body = %q, want %q", got, "ok")
	}
	if w.Header().Get("HX-Trigger") != "" {
		t.Error("HX-Trigger set without any queued events")
	}
}

func TestHXResponseStatusHeaderBody(t *testing.T) {
	w := httptest.NewRecorder()
	NewHXResponse().
		Status(http.StatusCreated).
		Header("X-Run-ID", "12").
		BodyHTML("<p>done</p>").
		Write(w)

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", w.Code)
	}
	if got := w.Header().Get("X-Run-ID"); got != "12" {
		t.Errorf("X-Run-ID = %q, want %q", got, "12")
	}
	if got := w.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", got)
	}
	if w.Body.String() != "<p>done</p>" {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestPayoutTriggers(t *testing.T) {
	w := httptest.NewRecorder()
	NewHXResponse().
		TriggerPayoutsUpdated(7).
		TriggerRunChanged(7).
		TriggerSuccessNotification("Saved").
		Write(w)

	events := decodeTriggers(t, w)

	raw, ok := events["payouts:updated"]
	if !ok {
		t.Fatal("payouts:updated event missing")
	}
	var payload struct {
		RunID int64 `json:"run_id"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || payload.RunID != 7 {
		t.Errorf("payouts:updated payload = %s, want run_id 7", raw)
	}

	if _, ok := events["run:changed"]; !ok {
		t.Error("run:changed event missing")
	}

	raw, ok = events["show-notification"]
	if !ok {
		t.Fatal("show-notification event missing")
	}
	var toast struct {
		Type     string `json:"type"`
		Message  string `json:"message"`
		Duration int    `json:"duration"`
	}
	if err := json.Unmarshal(raw, &toast); err != nil {
		t.Fatalf("decode toast: %v", err)
	}
	if toast.Type != "success" || toast.Message != "Saved" || toast.Duration <= 0 {
		t.Errorf("toast = %+v", toast)
	}
}

func TestAdhocTriggers(t *testing.T) {
	w := httptest.NewRecorder()
	NewHXResponse().TriggerAdhocChanged().TriggerFormReset().Write(w)

	events := decodeTriggers(t, w)
	for _, name := range []string{"adhoc:changed", "form:reset"} {
		if _, ok := events[name]; !ok {
			t.Errorf("%s event missing", name)
		}
	}
}

func TestNotificationKinds(t *testing.T) {
	for _, kind := range []NotificationType{NotificationSuccess, NotificationError, NotificationWarning} {
		w := httptest.NewRecorder()
		NewHXResponse().TriggerNotification(kind, "hello", 1000).Write(w)

		events := decodeTriggers(t, w)
		var toast struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(events["show-notification"], &toast); err != nil {
			t.Fatalf("decode toast: %v", err)
		}
		if toast.Type != string(kind) {
			t.Errorf("toast type = %q, want %q", toast.Type, kind)
		}
	}
}

func TestErrorResponses(t *testing.T) {
	cases := []struct {
		name   string
		build  func(string) *HXResponse
		status int
	}{
		{"bad request", BadRequestError, http.StatusBadRequest},
		{"unprocessable", UnprocessableEntityError, http.StatusUnprocessableEntity},
		{"internal", InternalServerError, http.StatusInternalServerError},
		{"not found", NotFoundError, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tc.build("something went wrong").Write(w)

			if w.Code != tc.status {
				t.Errorf("status = %d, want %d", w.Code, tc.status)
			}
			want := `<div class="error">something went wrong</div>`
			if w.Body.String() != want {
				t.Errorf("body = %q, want %q", w.Body.String(), want)
			}
		})
	}
}

func TestErrorResponseEscapesMarkup(t *testing.T) {
	w := httptest.NewRecorder()
	BadRequestError(`<script>alert("x")</script>`).Write(w)

	body := w.Body.String()
	if strings.Contains(body, "<script>") {
		t.Errorf("markup not escaped: %s", body)
	}
	if !strings.Contains(body, "&lt;script&gt;") {
		t.Errorf("expected escaped entities in %s", body)
	}
}
