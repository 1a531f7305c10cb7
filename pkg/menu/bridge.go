package menu

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBridgeTimeout = 30 * time.Second
	maxParallelUploads   = 4
)

// Upload is one image ready to send.
type Upload struct {
	Data    []byte
	Caption string
}

// ImageSender delivers images to a customer's chat.
type ImageSender interface {
	SendImages(ctx context.Context, phone string, uploads []Upload) (int, error)
}

// BridgeConfig configures a BridgeClient.
type BridgeConfig struct {
	BaseURL string
	Timeout time.Duration
	Logger  zerolog.Logger
	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// BridgeClient posts images to the WhatsApp bridge.
type BridgeClient struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

type sendImageRequest struct {
	Phone    string `json:"phone"`
	ImageHex string `json:"imageHex"`
	Caption  string `json:"caption"`
}

// NewBridgeClient creates a client for the bridge at cfg.BaseURL.
func NewBridgeClient(cfg BridgeConfig) (*BridgeClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("bridge url is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultBridgeTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &BridgeClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
		logger:  cfg.Logger,
	}, nil
}

// SendImages uploads every image in parallel and returns how many were
// accepted. The first failure cancels the uploads still in flight.
func (b *BridgeClient) SendImages(ctx context.Context, phone string, uploads []Upload) (int, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelUploads)

	sent := make([]bool, len(uploads))
	for i, up := range uploads {
		i, up := i, up
		g.Go(func() error {
			if err := b.send(gctx, phone, up); err != nil {
				return fmt.Errorf("image %d (%s): %w", i+1, up.Caption, err)
			}
			sent[i] = true
			return nil
		})
	}
	err := g.Wait()

	count := 0
	for _, ok := range sent {
		if ok {
			count++
		}
	}
	b.logger.Debug().Int("sent", count).Int("total", len(uploads)).Msg("Menu images delivered")
	return count, err
}

func (b *BridgeClient) send(ctx context.Context, phone string, up Upload) error {
	body, err := json.Marshal(sendImageRequest{
		Phone:    phone,
		ImageHex: hex.EncodeToString(up.Data),
		Caption:  up.Caption,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/send-images", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("bridge request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("bridge returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
