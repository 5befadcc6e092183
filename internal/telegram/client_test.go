package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendMessage(t *testing.T) {
	var got SendMessageRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottoken/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := NewClient("token", "@alerts")
	client.apiURL = server.URL

	require.NoError(t, client.SendMessage(context.Background(), "hello"))
	assert.Equal(t, "@alerts", got.ChatID)
	assert.Equal(t, "HTML", got.ParseMode)
}

func TestSendMessageAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer server.Close()

	client := NewClient("token", "@alerts")
	client.apiURL = server.URL

	err := client.SendMessage(context.Background(), "hello")
	assert.EqualError(t, err, "telegram API error: chat not found")
}

func TestFormatIndexFailureMessage(t *testing.T) {
	var failed []FailedDocument
	for i := 0; i < 12; i++ {
		failed = append(failed, FailedDocument{ID: fmt.Sprintf("1.2.17_1.11.%d", i), Reason: "mapper <parsing>"})
	}
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	msg := FormatIndexFailureMessage(501, 90, errors.New("bulk: 500 <nil>"), failed, at)

	assert.Contains(t, msg, "<code>1.11.501</code>")
	assert.Contains(t, msg, "<code>90</code>")
	assert.Contains(t, msg, "2024-05-01 10:00:00 UTC")
	assert.Contains(t, msg, "bulk: 500 &lt;nil&gt;")
	assert.Contains(t, msg, "Rejected documents (12)")
	assert.Contains(t, msg, "mapper &lt;parsing&gt;")
	assert.Contains(t, msg, "and 2 more")
	assert.NotContains(t, msg, "1.2.17_1.11.10")
}
