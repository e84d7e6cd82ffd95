package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient("test-token")
	c.apiURL = srv.URL
	c.client = srv.Client()
	return c
}

func TestSendMessageSuccess(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(apiResponse{OK: true})
	})

	res, err := c.SendMessage(context.Background(), "chat-1", "hello", true)
	require.NoError(t, err)
	require.True(t, res.OK)
}

func TestSendMessageClassifiesRateLimited(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(apiResponse{OK: false, ErrorCode: 429, Description: "Too Many Requests: retry after 5"})
	})

	res, err := c.SendMessage(context.Background(), "chat-1", "hello", true)
	require.NoError(t, err)
	require.False(t, res.OK)
	require.Equal(t, KindRateLimited, res.Kind)
}

func TestSendMessageClassifiesChatNotFound(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(apiResponse{OK: false, ErrorCode: 400, Description: "Bad Request: chat not found"})
	})

	res, err := c.SendMessage(context.Background(), "chat-1", "hello", true)
	require.NoError(t, err)
	require.Equal(t, KindChatNotFound, res.Kind)
}

func TestSendMessageClassifiesTransientOn5xxDescription(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(apiResponse{OK: false, ErrorCode: 500, Description: "Internal Server Error"})
	})

	res, err := c.SendMessage(context.Background(), "chat-1", "hello", true)
	require.NoError(t, err)
	require.Equal(t, KindTransient, res.Kind)
}
