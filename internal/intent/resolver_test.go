package intent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nwilkes/taskpilot/internal/apperr"
)

func TestResolve_ParsesIntent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req resolveRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "mark buy milk done", req.Utterance)
		_ = json.NewEncoder(w).Encode(Intent{
			Name:       CompleteTask,
			Parameters: Parameters{TaskRef: "buy milk"},
			Confidence: 0.93,
		})
	}))
	defer srv.Close()

	r := NewHTTPResolver(srv.URL, nil, zerolog.Nop())
	got, err := r.Resolve(context.Background(), "mark buy milk done", nil)
	require.NoError(t, err)
	assert.Equal(t, CompleteTask, got.Name)
	assert.Equal(t, "buy milk", got.Parameters.TaskRef)
	assert.True(t, got.Actionable())
}

func TestResolve_MalformedBodyDegradesToUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	r := NewHTTPResolver(srv.URL, nil, zerolog.Nop())
	got, err := r.Resolve(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, Unknown, got.Name)
}

func TestResolve_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewHTTPResolver(srv.URL, nil, zerolog.Nop())
	_, err := r.Resolve(context.Background(), "hello", nil)
	assert.Equal(t, apperr.CodeUnavailable, apperr.CodeOf(err))
}

func TestActionable(t *testing.T) {
	tests := []struct {
		name   string
		intent Intent
		want   bool
	}{
		{"confident add", Intent{Name: AddTask, Confidence: 0.9}, true},
		{"at threshold", Intent{Name: ListTasks, Confidence: MinConfidence}, true},
		{"below threshold", Intent{Name: AddTask, Confidence: 0.3}, false},
		{"unknown", Intent{Name: Unknown, Confidence: 0.99}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.intent.Actionable())
		})
	}
}

func TestIsPronounRef(t *testing.T) {
	assert.True(t, Intent{Parameters: Parameters{TaskRef: "it"}}.IsPronounRef())
	assert.True(t, Intent{Parameters: Parameters{TaskRef: "that one"}}.IsPronounRef())
	assert.False(t, Intent{Parameters: Parameters{TaskRef: "buy milk"}}.IsPronounRef())
}
