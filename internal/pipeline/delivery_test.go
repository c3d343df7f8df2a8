package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/openclaw-briefing/internal/models"
)

func testBriefing() models.Briefing {
	return models.Briefing{
		ID:     "b1",
		UserID: "u1",
		Items: []models.BriefingItem{{
			ID: "i1", ItemNumber: 1, ReasonLabel: "Initiative Match", Topic: "Parametric cover",
			Content: "Adoption doubled.", SourceSignalIDs: []string{"sig-1"},
		}},
	}
}

func TestWebhookDeliverer_Sent(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	attempt := NewWebhookDeliverer(srv.URL, newTestLogger()).Deliver(context.Background(), testBriefing(), "email")
	assert.Equal(t, models.DeliverySent, attempt.Status)
	assert.Equal(t, "email", attempt.Channel)
	assert.Equal(t, "email", got.Channel)
	assert.Equal(t, "b1", got.Briefing.ID)
	require.Len(t, got.Briefing.Items, 1)
	assert.Equal(t, []string{"sig-1"}, got.Briefing.Items[0].SourceSignalIDs)
}

func TestWebhookDeliverer_Non2xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "mailbox full", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	attempt := NewWebhookDeliverer(srv.URL, newTestLogger()).Deliver(context.Background(), testBriefing(), "slack")
	assert.Equal(t, models.DeliveryFailed, attempt.Status)
	assert.Contains(t, attempt.ErrorMessage, "503")
	assert.Contains(t, attempt.ErrorMessage, "mailbox full")
}

func TestWebhookDeliverer_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	attempt := NewWebhookDeliverer(url, newTestLogger()).Deliver(context.Background(), testBriefing(), "email")
	assert.Equal(t, models.DeliveryFailed, attempt.Status)
	assert.NotEmpty(t, attempt.ErrorMessage)
}

func TestLogDeliverer(t *testing.T) {
	attempt := NewLogDeliverer(newTestLogger()).Deliver(context.Background(), testBriefing(), "email")
	assert.Equal(t, models.DeliverySent, attempt.Status)
}
