package telegram

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	updates     []Update
	sent        []string
	sendResult  SendResult
}

func (f *fakeClient) SendMessage(ctx context.Context, chatID, text string, markdown bool) (SendResult, error) {
	f.sent = append(f.sent, text)
	return f.sendResult, nil
}

func (f *fakeClient) GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error) {
	return f.updates, nil
}

func TestDispatcherRoutesDigestCommand(t *testing.T) {
	called := false
	client := &fakeClient{
		updates: []Update{{UpdateID: 1, Message: &Message{Text: "/digest", Chat: Chat{ID: 42}}}},
	}
	d := NewDispatcher(client, Handlers{
		OnDigest: func(ctx context.Context, chatID string) (string, error) {
			called = true
			require.Equal(t, "42", chatID)
			return "your digest", nil
		},
	})

	require.NoError(t, d.PollOnce(context.Background(), 0))
	require.True(t, called)
	require.Equal(t, []string{"your digest"}, client.sent)
}

func TestDispatcherRoutesCoinDetailCommand(t *testing.T) {
	var gotSymbol string
	client := &fakeClient{
		updates: []Update{{UpdateID: 1, Message: &Message{Text: "/btcstats eth", Chat: Chat{ID: 7}}}},
	}
	d := NewDispatcher(client, Handlers{
		OnCoinDetail: func(ctx context.Context, chatID, symbol string) (string, error) {
			gotSymbol = symbol
			return "detail", nil
		},
	})

	require.NoError(t, d.PollOnce(context.Background(), 0))
	require.Equal(t, "ETH", gotSymbol)
}

func TestDispatcherIgnoresUnrecognizedText(t *testing.T) {
	client := &fakeClient{
		updates: []Update{{UpdateID: 1, Message: &Message{Text: "hello there", Chat: Chat{ID: 7}}}},
	}
	d := NewDispatcher(client, Handlers{})

	require.NoError(t, d.PollOnce(context.Background(), 0))
	require.Empty(t, client.sent)
}

func TestDispatcherSubscribeAndUnsubscribe(t *testing.T) {
	var subscribedTZ string
	var unsubscribed bool
	client := &fakeClient{updates: []Update{
		{UpdateID: 1, Message: &Message{Text: "/subscribe Asia/Dhaka", Chat: Chat{ID: 1}}},
		{UpdateID: 2, Message: &Message{Text: "/unsubscribe", Chat: Chat{ID: 1}}},
	}}
	d := NewDispatcher(client, Handlers{
		OnSubscribe: func(ctx context.Context, chatID, tz string) error {
			subscribedTZ = tz
			return nil
		},
		OnUnsubscribe: func(ctx context.Context, chatID string) error {
			unsubscribed = true
			return nil
		},
	})

	require.NoError(t, d.PollOnce(context.Background(), 0))
	require.Equal(t, "Asia/Dhaka", subscribedTZ)
	require.True(t, unsubscribed)
}

func TestParseCommandStripsBotNameSuffix(t *testing.T) {
	cmd, arg := parseCommand("/digest@mybot extra")
	require.Equal(t, "/digest", cmd)
	require.Equal(t, "extra", arg)
}
