package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		wantErr  bool
	}{
		{name: "valid http", endpoint: "http://127.0.0.1:8188", wantErr: false},
		{name: "valid https", endpoint: "https://gpu.example.com", wantErr: false},
		{name: "empty", endpoint: "", wantErr: true},
		{name: "whitespace", endpoint: "   ", wantErr: true},
		{name: "unsupported scheme", endpoint: "ftp://host", wantErr: true},
		{name: "no scheme", endpoint: "127.0.0.1:8188", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Config{Endpoint: tt.endpoint}.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewNoNetworkCall(t *testing.T) {
	// Construction must not touch the endpoint; the address is unroutable.
	client, err := New(Config{Endpoint: "http://192.0.2.1:1"})
	require.NoError(t, err)
	assert.Equal(t, "http://192.0.2.1:1", client.Endpoint())
}

func TestPing(t *testing.T) {
	t.Run("any response means reachable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))
		defer srv.Close()

		client, err := New(Config{Endpoint: srv.URL})
		require.NoError(t, err)
		assert.NoError(t, client.Ping(context.Background()))
	})

	t.Run("connection failure is retryable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()

		client, err := New(Config{Endpoint: srv.URL})
		require.NoError(t, err)

		err = client.Ping(context.Background())
		require.Error(t, err)
		assert.True(t, IsRetryable(err))
	})
}

func TestUpload(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		var gotName string
		var gotBody []byte
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/upload", r.URL.Path)
			gotName = r.Header.Get("X-Asset-Name")
			gotBody, _ = io.ReadAll(r.Body)
			_ = json.NewEncoder(w).Encode(map[string]string{"assetRef": "asset-42"})
		}))
		defer srv.Close()

		client, err := New(Config{Endpoint: srv.URL})
		require.NoError(t, err)

		ref, err := client.Upload(context.Background(), "ada.png", strings.NewReader("pixels"))
		require.NoError(t, err)
		assert.Equal(t, "asset-42", ref)
		assert.Equal(t, "ada.png", gotName)
		assert.Equal(t, "pixels", string(gotBody))
	})

	t.Run("empty assetRef is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{})
		}))
		defer srv.Close()

		client, err := New(Config{Endpoint: srv.URL})
		require.NoError(t, err)

		_, err = client.Upload(context.Background(), "a.png", strings.NewReader("x"))
		require.Error(t, err)
		assert.False(t, IsRetryable(err))
	})
}

func TestSubmit(t *testing.T) {
	template := json.RawMessage(`{"nodes":{"1":{"image":"{{asset}}"}}}`)

	t.Run("success", func(t *testing.T) {
		var got SubmitRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/submit", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			_ = json.NewEncoder(w).Encode(map[string]string{"remoteHandle": "job-7"})
		}))
		defer srv.Close()

		client, err := New(Config{Endpoint: srv.URL})
		require.NoError(t, err)

		handle, err := client.Submit(context.Background(), SubmitRequest{
			Template: template,
			AssetRef: "asset-42",
			Params:   map[string]any{"styleStrength": 0.8},
		})
		require.NoError(t, err)
		assert.Equal(t, "job-7", handle)
		assert.Equal(t, "asset-42", got.AssetRef)
		assert.JSONEq(t, string(template), string(got.Template))
	})

	t.Run("missing assetRef rejected locally", func(t *testing.T) {
		client, err := New(Config{Endpoint: "http://127.0.0.1:8188"})
		require.NoError(t, err)

		_, err = client.Submit(context.Background(), SubmitRequest{Template: template})
		require.Error(t, err)
		assert.False(t, IsRetryable(err))
	})

	t.Run("missing template rejected locally", func(t *testing.T) {
		client, err := New(Config{Endpoint: "http://127.0.0.1:8188"})
		require.NoError(t, err)

		_, err = client.Submit(context.Background(), SubmitRequest{AssetRef: "asset-42"})
		require.Error(t, err)
		assert.False(t, IsRetryable(err))
	})
}

func TestStatus(t *testing.T) {
	t.Run("running", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/status/job-7", r.URL.Path)
			_ = json.NewEncoder(w).Encode(map[string]string{"state": "running"})
		}))
		defer srv.Close()

		client, err := New(Config{Endpoint: srv.URL})
		require.NoError(t, err)

		st, err := client.Status(context.Background(), "job-7")
		require.NoError(t, err)
		assert.Equal(t, StateRunning, st.State)
	})

	t.Run("failed with reason", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{"state": "failed", "reason": "CUDA out of memory"})
		}))
		defer srv.Close()

		client, err := New(Config{Endpoint: srv.URL})
		require.NoError(t, err)

		st, err := client.Status(context.Background(), "job-7")
		require.NoError(t, err)
		assert.Equal(t, StateFailed, st.State)
		assert.Equal(t, "CUDA out of memory", st.Reason)
	})

	t.Run("unknown handle maps to not_found, not error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}))
		defer srv.Close()

		client, err := New(Config{Endpoint: srv.URL})
		require.NoError(t, err)

		st, err := client.Status(context.Background(), "gone")
		require.NoError(t, err)
		assert.Equal(t, StateNotFound, st.State)
	})
}

func TestResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/result/job-7", r.URL.Path)
		_, _ = w.Write([]byte("artifact-bytes"))
	}))
	defer srv.Close()

	client, err := New(Config{Endpoint: srv.URL})
	require.NoError(t, err)

	body, err := client.Result(context.Background(), "job-7")
	require.NoError(t, err)
	defer func() { _ = body.Close() }()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "artifact-bytes", string(data))
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
	}{
		{name: "500 is transient", status: 500, body: `{"error":"boom"}`, retryable: true},
		{name: "503 is transient", status: 503, body: "overloaded", retryable: true},
		{name: "429 is transient", status: 429, body: "slow down", retryable: true},
		{name: "400 is terminal", status: 400, body: `{"error":"bad request"}`, retryable: false},
		{name: "422 is terminal", status: 422, body: `{"error":"unresolvable template"}`, retryable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client, err := New(Config{Endpoint: srv.URL})
			require.NoError(t, err)

			_, err = client.Submit(context.Background(), SubmitRequest{
				Template: json.RawMessage(`{}`),
				AssetRef: "asset-1",
			})
			require.Error(t, err)

			var te *TransportError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, tt.status, te.StatusCode)
			assert.Equal(t, tt.retryable, te.Retryable)
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestRequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client, err := New(Config{Endpoint: srv.URL, RequestTimeout: 20 * time.Millisecond})
	require.NoError(t, err)

	_, err = client.Status(context.Background(), "job-1")
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}
