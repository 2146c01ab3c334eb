package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/possync/reconcile/internal/config"
)

func TestSendTextMessage(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v20.0/12345/messages", r.URL.Path)
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.1"}]}`))
	}))
	defer srv.Close()

	client := NewClient(config.WhatsAppConfig{AccessToken: "token", PhoneNumberID: "12345", BaseURL: srv.URL + "/", APIVersion: "v20.0"})
	resp, err := client.SendTextMessage(context.Background(), SendTextMessageRequest{To: "+82 10-1234-5678", Body: "low stock: Mug"})
	require.NoError(t, err)
	assert.Equal(t, "wamid.1", resp.Messages[0].ID)
	assert.Equal(t, "821012345678", got["to"])
	assert.Equal(t, "text", got["type"])
	assert.Equal(t, "individual", got["recipient_type"])
	assert.Equal(t, map[string]any{"body": "low stock: Mug", "preview_url": false}, got["text"])
}

func TestSendTextMessageSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid OAuth access token","code":190}}`))
	}))
	defer srv.Close()

	client := NewClient(config.WhatsAppConfig{AccessToken: "bad", PhoneNumberID: "12345", BaseURL: srv.URL, APIVersion: "v20.0"})
	_, err := client.SendTextMessage(context.Background(), SendTextMessageRequest{To: "821012345678", Body: "hello"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code=190")
	assert.Contains(t, err.Error(), "Invalid OAuth access token")
}

func TestSendTextMessageRejectsBadInputWithoutCalling(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()
	client := NewClient(config.WhatsAppConfig{AccessToken: "token", PhoneNumberID: "12345", BaseURL: srv.URL, APIVersion: "v20.0"})

	_, err := client.SendTextMessage(context.Background(), SendTextMessageRequest{To: "store manager", Body: "hi"})
	assert.ErrorIs(t, err, ErrInvalidRecipient)

	_, err = client.SendTextMessage(context.Background(), SendTextMessageRequest{To: "821012345678", Body: "  "})
	assert.Error(t, err)

	assert.Zero(t, hits.Load())
}

func TestNormalizeRecipient(t *testing.T) {
	valid := map[string]string{
		"821012345678":      "821012345678",
		"+82 10-1234-5678":  "821012345678",
		" +1 (415) 5550100": "14155550100",
	}
	for raw, want := range valid {
		got, err := NormalizeRecipient(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got)
	}

	for _, raw := range []string{"", "1234567", "010-1234-5678", "82+1012345678", "8210123456789012", "82.10.1234.5678"} {
		_, err := NormalizeRecipient(raw)
		assert.ErrorIs(t, err, ErrInvalidRecipient, raw)
	}
}
