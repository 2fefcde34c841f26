package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradevenue/internal/domain"
)

type captureSender struct {
	name string
	msgs []Message
	err  error
}

func (c *captureSender) Send(_ context.Context, msg Message) error {
	c.msgs = append(c.msgs, msg)
	return c.err
}

func (c *captureSender) Name() string { return c.name }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

var sold = domain.NewEvent(domain.EventAuctionEnded, "0xc0/1", time.Unix(0, 0), map[string]string{"winner": "0xb1", "fee": "30"})

func TestNewMessage_SortsFields(t *testing.T) {
	m := NewMessage(sold)
	assert.Equal(t, "auction ended", m.Title)
	assert.Equal(t, "0xc0/1", m.Resource)
	assert.Equal(t, []Field{{"fee", "30"}, {"winner", "0xb1"}}, m.Fields)
}

func TestNotifier_PublishFiltersByKind(t *testing.T) {
	s := &captureSender{name: "cap"}
	n := NewNotifier([]Sender{s}, []string{" auction_ended"}, discard())
	ctx := context.Background()

	require.NoError(t, n.Publish(ctx, domain.NewEvent(domain.EventBidPlaced, "0xc0/1", time.Now(), nil)))
	assert.Empty(t, s.msgs)

	require.NoError(t, n.Publish(ctx, sold))
	require.Len(t, s.msgs, 1)
	assert.Equal(t, domain.EventAuctionEnded, s.msgs[0].Kind)
}

func TestNotifier_EmptyFilterPassesAll(t *testing.T) {
	s := &captureSender{name: "cap"}
	n := NewNotifier([]Sender{s}, nil, discard())
	require.NoError(t, n.Publish(context.Background(), domain.NewEvent(domain.EventSwapExecuted, "pool", time.Now(), nil)))
	assert.Len(t, s.msgs, 1)
}

func TestNotifier_OneSenderFailingDoesNotStopOthers(t *testing.T) {
	bad := &captureSender{name: "bad", err: errors.New("down")}
	good := &captureSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.Publish(context.Background(), sold)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: down")
	assert.Len(t, good.msgs, 1)
}

func TestDiscordSender_Embed(t *testing.T) {
	var got struct {
		Embeds []discordEmbed `json:"embeds"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), NewMessage(sold)))
	require.Len(t, got.Embeds, 1)
	e := got.Embeds[0]
	assert.Equal(t, "auction ended", e.Title)
	assert.Equal(t, "0xc0/1", e.Description)
	assert.Equal(t, 0x2ecc71, e.Color)
	require.Len(t, e.Fields, 2)
	assert.Equal(t, "fee", e.Fields[0].Name)
}

func TestDiscordSender_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad webhook", http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), NewMessage(sold))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord: unexpected status 404")
}

func TestTelegramSender(t *testing.T) {
	var path string
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		if got["chat_id"] != "42" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42")
	s.apiBase = srv.URL
	require.NoError(t, s.Send(context.Background(), NewMessage(sold)))
	assert.Equal(t, "/bottok/sendMessage", path)
	assert.Equal(t, "*auction ended*\n`0xc0/1`\nfee: `30`\nwinner: `0xb1`", got["text"])

	s.chatID = "7"
	require.Error(t, s.Send(context.Background(), NewMessage(sold)))
}
