package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/calls-relay/authstore"
	"github.com/onnwee/calls-relay/relay"
)

func postCallsWebhook(t *testing.T, env *testEnv, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/callsWebhook", strings.NewReader(body))
	rr := httptest.NewRecorder()
	env.h.HandleCallsWebhook(rr, req)
	return rr
}

func TestCallsWebhookMalformedPayload(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name string
		body string
	}{
		{"not json", "this is not json"},
		{"missing name", `{"resource":"calls","event":"created","secret":"for space: s, id: room-1"}`},
		{"missing secret", `{"resource":"calls","event":"created","name":"authorized by A: person-1"}`},
		{"empty object", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := postCallsWebhook(t, env, tt.body)
			if rr.Code != http.StatusOK {
				t.Errorf("status = %d, want 200", rr.Code)
			}
			if got := rr.Body.String(); got != "Ignoring." {
				t.Errorf("body = %q, want Ignoring.", got)
			}
		})
	}
}

func TestCallsWebhookNoAuthorization(t *testing.T) {
	env := newTestEnv(t)
	body := `{
		"resource": "calls", "event": "created",
		"name": "authorized by Ada: person-1",
		"secret": "for space: Eng, id: room-1",
		"createdBy": "person-1"
	}`
	rr := postCallsWebhook(t, env, body)
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
	if got := rr.Body.String(); got != "Ignoring." {
		t.Errorf("body = %q, want Ignoring.", got)
	}
}

func TestCallsWebhookRelays(t *testing.T) {
	env := newTestEnv(t)
	if err := env.store.Save(context.Background(), authstore.AuthRecord{
		RoomID: "room-1", PersonID: "person-1", DisplayName: "Ada Lovelace",
		AccessToken: "user-access", WebhookIDs: []string{"wh-1"},
	}); err != nil {
		t.Fatal(err)
	}
	env.mock.MockPerson("person-1", "Ada Lovelace")
	env.mock.MockPerson("person-2", "Grace Hopper")
	env.mock.MockMessagePost()

	secret := relay.EncodeSecret("Eng", "room-1")
	body := `{
		"resource": "calls", "event": "created",
		"name": "authorized by Ada Lovelace: person-1",
		"secret": "` + secret + `",
		"createdBy": "person-1",
		"actorId": "person-2",
		"data": {"status": "connected"}
	}`
	rr := postCallsWebhook(t, env, body)
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
	if got := rr.Body.String(); got != "Posting to Webex Teams Room" {
		t.Errorf("body = %q, want Posting to Webex Teams Room", got)
	}

	// Dispatch runs after the response; wait for the relayed message.
	ok := waitFor(t, time.Second, func() bool {
		for _, msg := range env.mock.SentMessages() {
			if msg["roomId"] == "room-1" && strings.Contains(msg["markdown"], "started a call") {
				return true
			}
		}
		return false
	})
	if !ok {
		t.Error("relayed message not posted")
	}
}
