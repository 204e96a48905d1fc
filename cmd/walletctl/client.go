package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/better-wallet/extension-wallet/pkg/errors"
)

// client talks to a running walletd
type client struct {
	baseURL string
	token   string
	http    *http.Client
}

func newClient(addr, token string) *client {
	return &client{
		baseURL: strings.TrimRight(addr, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// do sends body as JSON and decodes a JSON response into out. Error bodies
// are returned as *apperrors.AppError.
func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("X-UI-Token", c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("walletd unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var appErr apperrors.AppError
		if err := json.NewDecoder(resp.Body).Decode(&appErr); err != nil || appErr.Code == "" {
			return fmt.Errorf("walletd returned %s", resp.Status)
		}
		appErr.StatusCode = resp.StatusCode
		return &appErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
