package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/airlock-labs/airlock/pkg/gate"
)

// webhookExecutor forwards confirmed actions to the external operation
// layer over HTTP: POST {action, arguments} → {success, result_note}. The
// gate has already recorded the executing transition by the time this
// runs, so a crash mid-call leaves a sweepable state, not an ambiguous one.
type webhookExecutor struct {
	url    string
	client *http.Client
}

func newWebhookExecutor(url string, timeout time.Duration) gate.Executor {
	return &webhookExecutor{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type webhookRequest struct {
	Action    string         `json:"action"`
	Arguments map[string]any `json:"arguments"`
}

type webhookResponse struct {
	Success    bool   `json:"success"`
	ResultNote string `json:"result_note"`
}

func (w *webhookExecutor) Execute(ctx context.Context, action string, args map[string]any) (string, error) {
	body, err := json.Marshal(webhookRequest{Action: action, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call operation layer: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("operation layer returned %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var out webhookResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if !out.Success {
		return "", fmt.Errorf("%s", out.ResultNote)
	}
	return out.ResultNote, nil
}
