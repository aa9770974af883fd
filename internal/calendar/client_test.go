package calendar

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

func TestCreateEventPostsJSON(t *testing.T) {
	var received Event
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/events", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "cal-key")
	start := time.Date(2026, 9, 8, 10, 0, 0, 0, time.UTC)
	err := client.CreateEvent(context.Background(), Event{
		AccountID:      "acct-1",
		CounterpartyID: "lead-1",
		PropertyID:     "apt-12",
		Title:          "Viewing: 12 Main St #4B",
		Start:          start,
		End:            start.Add(30 * time.Minute),
		Timezone:       "America/New_York",
	})

	require.NoError(t, err)
	assert.Equal(t, "Bearer cal-key", auth)
	assert.Equal(t, "apt-12", received.PropertyID)
	assert.NotEmpty(t, received.ID)
	assert.True(t, received.Start.Equal(start))
}

func TestCreateEventPreservesCallerID(t *testing.T) {
	var received Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	err := client.CreateEvent(context.Background(), Event{ID: "evt-42", Title: "Viewing"})

	require.NoError(t, err)
	assert.Equal(t, "evt-42", received.ID)
}

func TestCreateEventSurfacesErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "calendar is full", http.StatusConflict)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "cal-key")
	err := client.CreateEvent(context.Background(), Event{Title: "Viewing"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.Contains(t, err.Error(), "calendar is full")
}

func TestNilClientIsDisabled(t *testing.T) {
	client := NewClient("", "key")
	require.Nil(t, client)
	require.NoError(t, client.CreateEvent(context.Background(), Event{}))
}
