package media

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("token", "", WithBaseURL(srv.URL), WithPollInterval(time.Millisecond), WithLimiter(rate.NewLimiter(rate.Inf, 1)))
}

func TestAnimateSucceedsAfterPolling(t *testing.T) {
	var polls atomic.Int32
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Token token", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/predictions":
			var body map[string]interface{}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, DefaultModelVersion, body["version"])
			input, _ := body["input"].(map[string]interface{})
			assert.Equal(t, "https://cdn.example/cat.png", input["input_image"])
			w.Write([]byte(`{"id":"p1","status":"starting"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/predictions/p1":
			if polls.Add(1) < 3 {
				w.Write([]byte(`{"id":"p1","status":"processing"}`))
				return
			}
			w.Write([]byte(`{"id":"p1","status":"succeeded","output":["https://cdn.example/out.mp4"]}`))
		default:
			http.NotFound(w, r)
		}
	})

	url, err := c.Animate(context.Background(), "https://cdn.example/cat.png")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/out.mp4", url)
	assert.Equal(t, int32(3), polls.Load())
}

func TestAnimateFailure(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Write([]byte(`{"id":"p2","status":"starting"}`))
			return
		}
		w.Write([]byte(`{"id":"p2","status":"failed","error":"NSFW content"}`))
	})

	_, err := c.Animate(context.Background(), "https://cdn.example/cat.png")
	assert.ErrorIs(t, err, ErrPredictionFailed)
	assert.Contains(t, err.Error(), "NSFW content")
}

func TestAnimateTimeout(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"p3","status":"processing"}`))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := c.Animate(ctx, "https://cdn.example/cat.png")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCreatePredictionAPIError(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"detail":"bad version"}`))
	})

	_, err := c.CreatePrediction(context.Background(), "https://cdn.example/cat.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 422")
}

func TestNotConfigured(t *testing.T) {
	c := NewClient("", "")
	assert.False(t, c.Configured())

	_, err := c.Animate(context.Background(), "https://cdn.example/cat.png")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestOutputURL(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    string
		wantErr bool
	}{
		{"string", `"https://a/b.mp4"`, "https://a/b.mp4", false},
		{"list", `["https://a/1.mp4","https://a/2.mp4"]`, "https://a/1.mp4", false},
		{"empty list", `[]`, "", true},
		{"null", `null`, "", true},
		{"missing", ``, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Prediction{Output: json.RawMessage(tt.output)}
			got, err := p.OutputURL()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoOutput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
