package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Dispatcher polls getUpdates and routes the minimal recognized command
// set to the core components, per spec.md §4.6. It is not a general
// command parser — unrecognized text is ignored.
type Dispatcher struct {
	client        TelegramClient
	lastUpdateID  int64
	handlers      Handlers
}

// Handlers wires the dispatcher to the components each command needs.
// Any field may be nil; the corresponding command then replies with a
// generic "not available" message instead of panicking.
type Handlers struct {
	OnDigest     func(ctx context.Context, chatID string) (string, error)
	OnCoinDetail func(ctx context.Context, chatID, symbol string) (string, error)
	OnSubscribe  func(ctx context.Context, chatID, timezone string) error
	OnUnsubscribe func(ctx context.Context, chatID string) error
	OnInteraction func(ctx context.Context, chatID, username, firstName, messageType string)
}

// NewDispatcher builds a Dispatcher.
func NewDispatcher(client TelegramClient, handlers Handlers) *Dispatcher {
	return &Dispatcher{client: client, handlers: handlers}
}

// PollOnce fetches one batch of updates (long-poll up to timeoutSecs) and
// dispatches any recognized commands found within it.
func (d *Dispatcher) PollOnce(ctx context.Context, timeoutSecs int) error {
	updates, err := d.client.GetUpdates(ctx, d.lastUpdateID+1, timeoutSecs)
	if err != nil {
		return fmt.Errorf("poll updates: %w", err)
	}

	for _, upd := range updates {
		if upd.UpdateID > d.lastUpdateID {
			d.lastUpdateID = upd.UpdateID
		}
		if upd.Message == nil || upd.Message.Chat.ID == 0 {
			continue
		}
		d.dispatch(ctx, upd.Message)
	}
	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, msg *Message) {
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	cmd, arg := parseCommand(msg.Text)
	if cmd == "" {
		return
	}

	if d.handlers.OnInteraction != nil {
		username, firstName := "", ""
		if msg.From != nil {
			username, firstName = msg.From.Username, msg.From.FirstName
		}
		d.handlers.OnInteraction(ctx, chatID, username, firstName, cmd)
	}

	var reply string
	var err error
	switch cmd {
	case "/digest":
		reply, err = d.runOrUnavailable(ctx, chatID, d.handlers.OnDigest)
	case "/btcstats", "/coinstats":
		reply, err = d.runCoinDetail(ctx, chatID, arg)
	case "/subscribe":
		err = d.runSubscribe(ctx, chatID, arg)
		reply = "Subscribed. You'll receive digests four times a day."
	case "/unsubscribe":
		err = d.runUnsubscribe(ctx, chatID)
		reply = "Unsubscribed."
	default:
		return
	}

	if err != nil {
		reply = fmt.Sprintf("Sorry, that didn't work: %v", err)
	}
	if reply == "" {
		return
	}
	_, _ = d.client.SendMessage(ctx, chatID, reply, true)
}

func (d *Dispatcher) runOrUnavailable(ctx context.Context, chatID string, fn func(context.Context, string) (string, error)) (string, error) {
	if fn == nil {
		return "This command isn't available right now.", nil
	}
	return fn(ctx, chatID)
}

func (d *Dispatcher) runCoinDetail(ctx context.Context, chatID, arg string) (string, error) {
	if d.handlers.OnCoinDetail == nil {
		return "This command isn't available right now.", nil
	}
	symbol := strings.ToUpper(strings.TrimSpace(arg))
	if symbol == "" {
		return "Usage: /btcstats <symbol>", nil
	}
	return d.handlers.OnCoinDetail(ctx, chatID, symbol)
}

func (d *Dispatcher) runSubscribe(ctx context.Context, chatID, timezone string) error {
	if d.handlers.OnSubscribe == nil {
		return fmt.Errorf("subscription is not available right now")
	}
	timezone = strings.TrimSpace(timezone)
	if timezone == "" {
		timezone = "UTC"
	}
	return d.handlers.OnSubscribe(ctx, chatID, timezone)
}

func (d *Dispatcher) runUnsubscribe(ctx context.Context, chatID string) error {
	if d.handlers.OnUnsubscribe == nil {
		return fmt.Errorf("unsubscribe is not available right now")
	}
	return d.handlers.OnUnsubscribe(ctx, chatID)
}

// parseCommand splits a Telegram command message into its command token
// (lowercased, stripped of an @botname suffix) and the remaining argument.
func parseCommand(text string) (cmd, arg string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	parts := strings.SplitN(text, " ", 2)
	cmd = strings.ToLower(parts[0])
	if at := strings.Index(cmd, "@"); at >= 0 {
		cmd = cmd[:at]
	}
	if len(parts) > 1 {
		arg = parts[1]
	}
	return cmd, arg
}
