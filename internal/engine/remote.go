// ABOUTME: HTTP client for a LangGraph-compatible graph server
// ABOUTME: Creates threads, streams runs as SSE value snapshots, and reads or updates thread state

package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// RemoteOptions configures a RemoteEngine
type RemoteOptions struct {
	URL         string
	AssistantID string
	APIKey      string
	Timeout     time.Duration // per request, not applied to run streams
	Retries     int           // retry count for idempotent requests
}

// RemoteEngine talks to a LangGraph-compatible server over HTTP.
type RemoteEngine struct {
	client       *resty.Client // bounded requests with retries
	streamClient *resty.Client // run streams, bounded only by the caller's context
	assistantID  string
	logger       *slog.Logger
}

// NewRemoteEngine creates a client for the server at opts.URL
func NewRemoteEngine(opts RemoteOptions) *RemoteEngine {
	newClient := func() *resty.Client {
		c := resty.New().
			SetBaseURL(strings.TrimRight(opts.URL, "/")).
			SetHeader("Content-Type", "application/json")
		if opts.APIKey != "" {
			c.SetHeader("X-Api-Key", opts.APIKey)
		}
		return c
	}

	client := newClient().
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.Retries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
				return false
			}
			return err != nil || r.StatusCode() >= 500
		})

	streamClient := newClient().SetHeader("Accept", "text/event-stream")

	return &RemoteEngine{
		client:       client,
		streamClient: streamClient,
		assistantID:  opts.AssistantID,
		logger:       slog.Default().With("component", "engine", "engine", "remote"),
	}
}

type runRequest struct {
	AssistantID string         `json:"assistant_id"`
	Input       map[string]any `json:"input"`
	StreamMode  []string       `json:"stream_mode"`
}

// Stream creates the thread if needed, starts a run and streams value snapshots.
func (e *RemoteEngine) Stream(ctx context.Context, cfg Config, input map[string]any) (<-chan Result, error) {
	if input != nil {
		if err := e.ensureThread(ctx, cfg.ThreadID); err != nil {
			return nil, err
		}
	}

	resp, err := e.streamClient.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetBody(runRequest{
			AssistantID: e.assistantID,
			Input:       input,
			StreamMode:  []string{"values"},
		}).
		Post("/threads/" + cfg.ThreadID + "/runs/stream")
	if err != nil {
		return nil, fmt.Errorf("starting run: %w", err)
	}

	body := resp.RawBody()
	if resp.StatusCode() == http.StatusNotFound {
		body.Close()
		return nil, ErrThreadNotFound
	}
	if resp.StatusCode() >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(body, 4096))
		body.Close()
		return nil, fmt.Errorf("starting run: status %d: %s", resp.StatusCode(), strings.TrimSpace(string(detail)))
	}

	results := make(chan Result)
	go e.readStream(ctx, body, results)
	return results, nil
}

// readStream parses SSE frames from body into results and closes both when done
func (e *RemoteEngine) readStream(ctx context.Context, body io.ReadCloser, results chan<- Result) {
	defer close(results)
	defer body.Close()

	send := func(r Result) bool {
		select {
		case results <- r:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var event string
	var data bytes.Buffer

	dispatch := func() bool {
		defer func() {
			event = ""
			data.Reset()
		}()

		switch event {
		case "values":
			snap, err := ParseSnapshot(data.Bytes())
			if err != nil {
				send(Result{Err: err})
				return false
			}
			return send(Result{Snapshot: snap})
		case "error":
			send(Result{Err: fmt.Errorf("engine error: %s", remoteErrorMessage(data.Bytes()))})
			return false
		case "end":
			return false
		default:
			// metadata, heartbeats and anything else are not state
			return true
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if event == "" && data.Len() == 0 {
				continue
			}
			if !dispatch() {
				return
			}
		case strings.HasPrefix(line, ":"):
			// comment
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() == nil {
			send(Result{Err: fmt.Errorf("reading run stream: %w", err)})
		}
		return
	}

	// a final frame without a trailing blank line
	if event != "" {
		dispatch()
	}
}

func remoteErrorMessage(data []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return strings.TrimSpace(string(data))
}

// ensureThread creates the thread, leaving an existing one untouched
func (e *RemoteEngine) ensureThread(ctx context.Context, threadID string) error {
	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(map[string]any{"thread_id": threadID, "if_exists": "do_nothing"}).
		Post("/threads")
	if err != nil {
		return fmt.Errorf("creating thread: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("creating thread: status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}

type remoteState struct {
	Values json.RawMessage `json:"values"`
	Next   []string        `json:"next"`
}

// State reads the thread's current values and next nodes
func (e *RemoteEngine) State(ctx context.Context, cfg Config) (*State, error) {
	var out remoteState
	resp, err := e.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/threads/" + cfg.ThreadID + "/state")
	if err != nil {
		return nil, fmt.Errorf("reading state: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, ErrThreadNotFound
	}
	if resp.IsError() {
		return nil, fmt.Errorf("reading state: status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}

	raw := out.Values
	if len(raw) == 0 || string(raw) == "null" {
		raw = []byte("{}")
	}
	snap, err := ParseSnapshot(raw)
	if err != nil {
		return nil, err
	}
	return &State{Values: snap, Next: out.Next}, nil
}

// UpdateState posts a values update to the thread
func (e *RemoteEngine) UpdateState(ctx context.Context, cfg Config, values map[string]any) error {
	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(map[string]any{"values": values}).
		Post("/threads/" + cfg.ThreadID + "/state")
	if err != nil {
		return fmt.Errorf("updating state: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return ErrThreadNotFound
	}
	if resp.IsError() {
		return fmt.Errorf("updating state: status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}

	e.logger.Debug("updated thread state", "thread_id", cfg.ThreadID)
	return nil
}
