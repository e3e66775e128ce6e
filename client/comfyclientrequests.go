package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/richinsley/promptrelay/graphapi"
)

/*
@routes.get("/system_stats")
@routes.get("/view")
@routes.post("/prompt")
*/

// responses larger than this are not something the engine sends for these routes
const maxResponseBytes = 8 << 20

// how much of a rejected body ends up in the logs
const maxLoggedBody = 2048

func (c *ComfyClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return context.WithCancel(ctx)
}

// do issues req and returns the status code and body
func (c *ComfyClient) do(req *http.Request) (int, []byte, error) {
	resp, err := c.httpclient.Do(req)
	if err != nil {
		return 0, nil, transportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, transportError(err)
	}
	return resp.StatusCode, body, nil
}

func (c *ComfyClient) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path, params), nil)
	if err != nil {
		return nil, err
	}
	status, body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &SubmissionError{Kind: ErrorKindRejected, StatusCode: status, Body: string(body)}
	}
	return body, nil
}

// QueuePrompt submits w to the engine under a freshly generated client id.
// It makes exactly one attempt.
func (c *ComfyClient) QueuePrompt(ctx context.Context, w graphapi.Workflow) (*QueueItem, error) {
	return c.QueuePromptWithClientID(ctx, uuid.New().String(), w)
}

// QueuePromptWithClientID submits w to the engine under clientID. The engine
// routes execution updates for the prompt to the websocket opened with the same id.
func (c *ComfyClient) QueuePromptWithClientID(ctx context.Context, clientID string, w graphapi.Workflow) (*QueueItem, error) {
	prompt := graphapi.Prompt{
		ClientID: clientID,
		Nodes:    w,
	}
	data, err := json.Marshal(prompt)
	if err != nil {
		return nil, fmt.Errorf("encode prompt: %w", err)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/prompt", nil), bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	status, body, err := c.do(req)
	if err != nil {
		c.logger.Error("prompt submission failed", "client_id", clientID, "error", err)
		return nil, err
	}

	if status != http.StatusOK {
		serr := &SubmissionError{Kind: ErrorKindRejected, StatusCode: status, Body: string(body)}
		perror := &PromptErrorMessage{}
		if json.Unmarshal(body, perror) == nil {
			serr.Message = perror.Error.Message
		}
		c.logger.Error("engine rejected prompt", "client_id", clientID, "status", status, "body", truncate(string(body), maxLoggedBody))
		return nil, serr
	}

	if !json.Valid(body) {
		c.logger.Error("engine acknowledgement is not JSON", "client_id", clientID, "body", truncate(string(body), maxLoggedBody))
		return nil, &SubmissionError{Kind: ErrorKindMalformed, StatusCode: status, Body: string(body)}
	}
	if emptyAcknowledgement(body) {
		c.logger.Error("engine acknowledgement is empty", "client_id", clientID, "body", truncate(string(body), maxLoggedBody))
		return nil, &SubmissionError{Kind: ErrorKindMalformed, StatusCode: status, Body: string(body)}
	}

	item := &QueueItem{
		ClientID: clientID,
		Raw:      body,
		Workflow: w,
	}
	// the acknowledgement is opaque to callers; the known fields are best effort
	if err := json.Unmarshal(body, item); err != nil {
		c.logger.Debug("acknowledgement has an unexpected shape", "client_id", clientID, "error", err)
	}
	c.logger.Info("prompt queued", "client_id", clientID, "prompt_id", item.PromptID, "number", item.Number)
	return item, nil
}

// GetImage downloads an output produced by a prompt
func (c *ComfyClient) GetImage(ctx context.Context, image_data DataOutput) ([]byte, error) {
	params := url.Values{}
	params.Add("filename", image_data.Filename)
	params.Add("subfolder", image_data.Subfolder)
	params.Add("type", image_data.Type)
	return c.get(ctx, "/view", params)
}

// GetSystemStats reports the engine's host and devices. It doubles as a reachability check.
func (c *ComfyClient) GetSystemStats(ctx context.Context) (*SystemStats, error) {
	body, err := c.get(ctx, "/system_stats", nil)
	if err != nil {
		return nil, err
	}

	retv := &SystemStats{}
	if err := json.Unmarshal(body, retv); err != nil {
		return nil, &SubmissionError{Kind: ErrorKindMalformed, StatusCode: http.StatusOK, Body: string(body), Err: err}
	}
	return retv, nil
}

// emptyAcknowledgement reports whether a valid JSON body carries nothing:
// null, false, zero, "", [] or {}
func emptyAcknowledgement(body []byte) bool {
	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		return true
	}
	switch t := v.(type) {
	case nil:
		return true
	case bool:
		return !t
	case float64:
		return t == 0
	case string:
		return t == ""
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
