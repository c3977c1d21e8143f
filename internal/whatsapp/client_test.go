package whatsapp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/facturabot/facturabot/internal/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClient_Send(t *testing.T) {
	var gotPath, gotAuth string
	var gotPayload map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.1"}]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "meta-token", "123456789", testLogger())

	err := client.Send(context.Background(), "5215512345678", "Para facturar, comparte tu RFC (receptor).")
	require.NoError(t, err)

	assert.Equal(t, "/123456789/messages", gotPath)
	assert.Equal(t, "Bearer meta-token", gotAuth)
	assert.Equal(t, "whatsapp", gotPayload["messaging_product"])
	assert.Equal(t, "5215512345678", gotPayload["to"])
	assert.Equal(t, "text", gotPayload["type"])

	text, ok := gotPayload["text"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, text["body"], "RFC")
}

func TestClient_SendRetriesTransportFailures(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "meta-token", "123456789", testLogger())

	err := client.Send(context.Background(), "5215512345678", "hola")
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestClient_SendSurfacesTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "meta-token", "123456789", testLogger())

	err := client.Send(context.Background(), "5215512345678", "hola")
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "E310", appErr.Code)
	assert.True(t, appErr.Retryable)
}
