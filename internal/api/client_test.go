package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/RushangSavaliya/chatwire/internal/errs"
	"github.com/RushangSavaliya/chatwire/internal/model"
)

func TestLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/auth/login", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "alice", body["usernameOrEmail"])
		require.Equal(t, "s3cret", body["password"])

		_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok-1"})
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	tok, err := c.Login(context.Background(), "alice", "s3cret")
	require.NoError(t, err)
	require.Equal(t, "tok-1", tok)
}

func TestLoginRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid credentials"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	_, err := c.Login(context.Background(), "alice", "wrong")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestMeAttachesBearer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]model.User{
			"user": {ID: "u1", Username: "alice"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	u, err := c.Me(context.Background(), "tok-1")
	require.NoError(t, err)
	require.Equal(t, "u1", u.ID)
	require.Equal(t, "alice", u.Username)
}

func TestMessagesAndSend(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/messages/u2":
			_ = json.NewEncoder(w).Encode(map[string][]model.Message{
				"messages": {
					{ID: "m1", SenderID: "u1", ReceiverID: "u2", Content: "hi", CreatedAt: now},
					{ID: "m2", SenderID: "u2", ReceiverID: "u1", Content: "hello", CreatedAt: now},
				},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/messages":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			_ = json.NewEncoder(w).Encode(map[string]model.Message{
				"message": {ID: "m3", SenderID: "u1", ReceiverID: body["receiverId"], Content: body["content"], CreatedAt: now},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())

	msgs, err := c.Messages(context.Background(), "tok", "u2")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "m1", msgs[0].ID)

	sent, err := c.SendMessage(context.Background(), "tok", "u2", "yo")
	require.NoError(t, err)
	require.Equal(t, "m3", sent.ID)
	require.Equal(t, "u2", sent.ReceiverID)
	require.Equal(t, "yo", sent.Content)
}

func TestServerErrorIncludesReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"user not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	_, err := c.Messages(context.Background(), "tok", "nobody")
	require.Error(t, err)
	require.Contains(t, err.Error(), "user not found")
	require.False(t, errors.Is(err, errs.ErrUnauthorized))
}

func TestContextCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := New(srv.URL, srv.Client())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Users(ctx, "tok")
	require.Error(t, err)
}
