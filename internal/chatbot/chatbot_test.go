package chatbot

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"SmargeChat/internal/backend"
	"SmargeChat/internal/config"
	"SmargeChat/internal/history"
	"SmargeChat/internal/transcript"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, apiURL string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.APIURL = apiURL
	cfg.LogDir = t.TempDir()
	cfg.DataDir = t.TempDir()
	cfg.Telemetry = false
	return cfg
}

func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req backend.LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Password != "secret" {
			http.Error(w, `{"detail":"bad credentials"}`, http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(backend.TokenResponse{AccessToken: "tok", TokenType: "bearer"})
	})
	mux.HandleFunc("GET /conversations", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]transcript.ConversationSummary{{ID: "c1", Title: "Hello"}})
	})
	mux.HandleFunc("DELETE /conversations/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /chat", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set(backend.HeaderConversationID, "c1")
		w.Write([]byte("Hi "))
		w.(http.Flusher).Flush()
		w.Write([]byte("there"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func runScript(t *testing.T, cfg config.Config, script string) string {
	t.Helper()
	var out bytes.Buffer
	bot, err := NewChatBot(cfg, NewReaderInput(strings.NewReader(script), &out), &out)
	require.NoError(t, err)
	require.NoError(t, bot.Run(context.Background()))
	return out.String()
}

func TestChatBot_LoginChatAndRecord(t *testing.T) {
	srv := fakeAPI(t)
	cfg := testConfig(t, srv.URL)

	out := runScript(t, cfg, "/login ada@example.com\nsecret\nHello\n/history\n/list\n/quit\n")

	assert.Contains(t, out, "Not logged in.")
	assert.Contains(t, out, "Logged in as ada@example.com")
	assert.Contains(t, out, "Bot: Hi there\n")
	assert.Contains(t, out, "You: Hello\nBot: Hi there\n")
	assert.Contains(t, out, "1. Hello [c1] (current)")
	assert.Contains(t, out, "Goodbye!")
	assert.FileExists(t, cfg.CredentialsPath())

	store, err := history.Open(cfg.HistoryPath(), nil)
	require.NoError(t, err)
	defer store.Close()
	turns, err := store.GetConversation(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "Hi there", turns[1].Content)
}

func TestChatBot_DeleteRemovesLocalHistory(t *testing.T) {
	srv := fakeAPI(t)
	cfg := testConfig(t, srv.URL)

	out := runScript(t, cfg, "/login ada@example.com\nsecret\nHello\n/delete 1\n/quit\n")
	assert.Contains(t, out, "Bot: Hi there\n")
	assert.Contains(t, out, "Deleted conversation c1")

	store, err := history.Open(cfg.HistoryPath(), nil)
	require.NoError(t, err)
	defer store.Close()
	list, err := store.ListConversations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestChatBot_OpenByIDWhenListFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /conversations", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	mux.HandleFunc("GET /conversations/{id}", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "c9", r.PathValue("id"))
		json.NewEncoder(w).Encode(backend.ConversationResponse{
			ID: "c9",
			Messages: []backend.WireMessage{
				{Role: "user", Content: "Ping"},
				{Role: "assistant", Content: "Pong"},
			},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	out := runScript(t, testConfig(t, srv.URL), "/open c9\n/open 1\n/quit\n")

	assert.Contains(t, out, "Opened conversation c9")
	assert.Contains(t, out, "You: Ping\nBot: Pong\n")
	// list positions still need the list
	assert.Contains(t, out, "Error: ")
}

func TestChatBot_UnauthorizedShowsErrorReply(t *testing.T) {
	srv := fakeAPI(t)
	out := runScript(t, testConfig(t, srv.URL), "Hello\n/quit\n")

	assert.Contains(t, out, "Bot: Sorry, I encountered an error. Please try again.")
	assert.Contains(t, out, "Use /login")
}

func TestChatBot_BadLogin(t *testing.T) {
	srv := fakeAPI(t)
	out := runScript(t, testConfig(t, srv.URL), "/login ada@example.com\nwrong\n/quit\n")
	assert.Contains(t, out, "Error: login: invalid credentials")
}

func TestChatBot_OfflineBrowsesHistory(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Offline = true

	store, err := history.Open(cfg.HistoryPath(), nil)
	require.NoError(t, err)
	require.NoError(t, store.SaveConversation(context.Background(), "c7", []transcript.Turn{
		{Role: transcript.RoleUser, Content: "Ping"},
		{Role: transcript.RoleAssistant, Content: "Pong"},
	}))
	require.NoError(t, store.Close())

	out := runScript(t, cfg, "/list\n/open 1\nanother\n/login x@y.z\n/quit\n")

	assert.Contains(t, out, "1. Ping [c7]")
	assert.Contains(t, out, "You: Ping\nBot: Pong\n")
	assert.Contains(t, out, "Error: sending is disabled in offline mode")
}

func TestChatBot_UnknownCommand(t *testing.T) {
	srv := fakeAPI(t)
	out := runScript(t, testConfig(t, srv.URL), "/bogus\n")
	assert.Contains(t, out, "unknown command /bogus")
}
