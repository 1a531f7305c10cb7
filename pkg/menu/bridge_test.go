package menu

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bridgeRecorder struct {
	mu       sync.Mutex
	requests []sendImageRequest
	status   int
}

func (b *bridgeRecorder) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/send-images", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req sendImageRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		b.mu.Lock()
		b.requests = append(b.requests, req)
		status := b.status
		b.mu.Unlock()

		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		w.Write([]byte(`{"ok":true}`))
	}
}

func TestBridgeClient_SendImages(t *testing.T) {
	t.Run("should post every image hex encoded", func(t *testing.T) {
		rec := &bridgeRecorder{}
		srv := httptest.NewServer(rec.handler(t))
		defer srv.Close()

		client, err := NewBridgeClient(BridgeConfig{BaseURL: srv.URL + "/", Logger: zerolog.Nop()})
		require.NoError(t, err)

		sent, err := client.SendImages(context.Background(), "573001112233", []Upload{
			{Data: []byte("png-1"), Caption: "Menú 1"},
			{Data: []byte("png-2"), Caption: "Menú 2"},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, sent)

		require.Len(t, rec.requests, 2)
		captions := map[string]string{}
		for _, r := range rec.requests {
			assert.Equal(t, "573001112233", r.Phone)
			captions[r.Caption] = r.ImageHex
		}
		assert.Equal(t, hex.EncodeToString([]byte("png-1")), captions["Menú 1"])
	})

	t.Run("should report bridge failures", func(t *testing.T) {
		rec := &bridgeRecorder{status: http.StatusBadGateway}
		srv := httptest.NewServer(rec.handler(t))
		defer srv.Close()

		client, err := NewBridgeClient(BridgeConfig{BaseURL: srv.URL, Logger: zerolog.Nop()})
		require.NoError(t, err)

		sent, err := client.SendImages(context.Background(), "1", []Upload{{Data: []byte("x"), Caption: "a"}})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "502")
		assert.Equal(t, 0, sent)
	})

	t.Run("should require a base url", func(t *testing.T) {
		_, err := NewBridgeClient(BridgeConfig{})
		assert.Error(t, err)
	})
}
