package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// PushMessage is one push notification to an app installation.
type PushMessage struct {
	Recipient string
	Title     string
	Alert     string
}

// Pusher is the external push transport.
type Pusher interface {
	Push(ctx context.Context, msg PushMessage) error
}

// HTTPPusher posts to a Parse-compatible /1/push endpoint.
type HTTPPusher struct {
	url    string
	appID  string
	apiKey string
	client *http.Client
}

type pushPayload struct {
	Where pushWhere `json:"where"`
	Data  pushData  `json:"data"`
}

type pushWhere struct {
	InstallationID string `json:"installationId"`
}

type pushData struct {
	Alert string `json:"alert"`
	Title string `json:"title"`
}

// NewHTTPPusher constructs a pusher for the server at baseURL.
func NewHTTPPusher(baseURL, appID, apiKey string, timeout time.Duration) *HTTPPusher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPPusher{
		url:    strings.TrimRight(baseURL, "/") + "/1/push",
		appID:  appID,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

// Push sends msg. Any status other than 200 is a failure.
func (p *HTTPPusher) Push(ctx context.Context, msg PushMessage) error {
	if msg.Recipient == "" {
		return errors.New("push: empty recipient")
	}
	body, err := json.Marshal(pushPayload{
		Where: pushWhere{InstallationID: msg.Recipient},
		Data:  pushData{Alert: msg.Alert, Title: msg.Title},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Parse-Application-Id", p.appID)
	req.Header.Set("X-Parse-REST-API-Key", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("push: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// LogPusher logs messages instead of sending them. Used when no push server is configured.
type LogPusher struct {
	logger *zap.Logger
}

// NewLogPusher creates a pusher that only logs.
func NewLogPusher(logger *zap.Logger) *LogPusher {
	return &LogPusher{logger: logger}
}

// Push logs msg.
func (p *LogPusher) Push(_ context.Context, msg PushMessage) error {
	p.logger.Info("push notification",
		zap.String("recipient", msg.Recipient),
		zap.String("title", msg.Title),
		zap.String("alert", msg.Alert),
	)
	return nil
}
