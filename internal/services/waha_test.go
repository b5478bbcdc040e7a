package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeChatID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "local number with trunk prefix",
			input:    "09876543210",
			expected: "919876543210@c.us",
		},
		{
			name:     "bare ten digit number",
			input:    "9876543210",
			expected: "919876543210@c.us",
		},
		{
			name:     "number with country code and plus",
			input:    "+91 98765 43210",
			expected: "919876543210@c.us",
		},
		{
			name:     "group id",
			input:    "120363407813232111@g.us",
			expected: "120363407813232111@g.us",
		},
		{
			name:     "number with suffix",
			input:    "919876543210@c.us",
			expected: "919876543210@c.us",
		},
		{
			name:     "foreign number",
			input:    "+447911123456",
			expected: "447911123456@c.us",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeChatID(tt.input))
		})
	}
}

func TestWahaSendMessageSequence(t *testing.T) {
	var paths []string
	var sent map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/api/sendText" {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&sent))
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s := NewWahaService(srv.URL, "secret")
	s.pause = func(time.Duration) {}

	require.NoError(t, s.SendMessage(context.Background(), "9876543210", "hello"))
	assert.Equal(t, []string{"/api/sendSeen", "/api/startTyping", "/api/stopTyping", "/api/sendText"}, paths)
	assert.Equal(t, "919876543210@c.us", sent["chatId"])
	assert.Equal(t, "hello", sent["text"])
}

func TestWahaSendMessageFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := NewWahaService(srv.URL, "bad")
	s.pause = func(time.Duration) {}

	err := s.SendMessage(context.Background(), "9876543210", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to send seen")
}
