package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignUpSendsDisplayName(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/signup", r.URL.Path)
		assert.Equal(t, "anon", r.Header.Get("apikey"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"access_token":"tok","user":{"id":"u1","email":"a@b.c"}}`))
	}))
	defer srv.Close()

	s, err := NewSupabaseClient(srv.URL+"/", "anon").SignUp(context.Background(), "a@b.c", "pw", " Ada ")
	require.NoError(t, err)
	assert.Equal(t, "tok", s.AccessToken)
	assert.Equal(t, "u1", s.User.ID)
	assert.Equal(t, map[string]any{"display_name": "Ada"}, got["data"])
}

func TestLoginMapsBadCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewSupabaseClient(srv.URL, "anon").Login(context.Background(), "a@b.c", "nope")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginSurfacesServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewSupabaseClient(srv.URL, "anon").Login(context.Background(), "a@b.c", "pw")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)
}

func TestVerifyAccessTokenCachesSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"id":"u1","email":"a@b.c","user_metadata":{"display_name":"Ada"}}`))
	}))
	defer srv.Close()

	c := NewSupabaseClient(srv.URL, "anon")
	for i := 0; i < 3; i++ {
		u, err := c.VerifyAccessToken(context.Background(), "good")
		require.NoError(t, err)
		assert.Equal(t, "Ada", u.Metadata.DisplayName)
	}
	assert.Equal(t, int32(1), calls.Load())

	_, err := c.VerifyAccessToken(context.Background(), "bad")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = c.VerifyAccessToken(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
