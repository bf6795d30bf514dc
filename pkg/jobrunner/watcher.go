package jobrunner

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// statusEvent is the one stream message shape the watcher cares about. All
// other message types are ignored.
type statusEvent struct {
	Type string `json:"type"`
	Data struct {
		Status struct {
			ExecInfo struct {
				QueueRemaining int `json:"queue_remaining"`
			} `json:"exec_info"`
		} `json:"status"`
	} `json:"data"`
}

type streamMessage struct {
	payload json.RawMessage
	err     error
}

// AwaitCompletion opens the queue's event stream and listens until a status
// event reports zero remaining work. The overall timeout is measured from
// entry into the listen loop and never resets per message. A quiet stream is
// not failure by itself: when no event arrives within the read timeout the
// watcher probes the health endpoint and keeps listening while the node is
// alive. Returns nil on completion, or ErrStreamTimeout, ErrServerDown,
// ErrConnectionLost, or the context error.
func (c *Client) AwaitCompletion(ctx context.Context, jobID string, timeout time.Duration) error {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.baseURL+"/events?job="+jobID, nil)
	if err != nil {
		return fmt.Errorf("%w: create stream request: %v", ErrConnectionLost, err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	// Closed via cancel() unwinding the request; Close errors never mask the
	// watch outcome.
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("%w: stream status %d: %s", ErrConnectionLost, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	messages := make(chan streamMessage)
	go readStream(streamCtx, resp.Body, messages)

	overall := time.After(timeout)
	for {
		readTimer := time.NewTimer(c.readTimeout)
		select {
		case <-ctx.Done():
			readTimer.Stop()
			return ctx.Err()

		case <-overall:
			readTimer.Stop()
			c.log.Warn("completion watch timed out", "jobID", jobID, "timeout", timeout)
			return ErrStreamTimeout

		case msg := <-messages:
			readTimer.Stop()
			if msg.err != nil {
				return fmt.Errorf("%w: %v", ErrConnectionLost, msg.err)
			}
			var event statusEvent
			if err := json.Unmarshal(msg.payload, &event); err != nil {
				continue
			}
			if event.Type != "status" {
				continue
			}
			remaining := event.Data.Status.ExecInfo.QueueRemaining
			if remaining == 0 {
				c.log.Info("job complete", "jobID", jobID)
				return nil
			}
			c.log.Info("queue status", "jobID", jobID, "remaining", remaining)

		case <-readTimer.C:
			// Streams under load go silent for reasons unrelated to job
			// failure; only an unreachable node ends the watch early.
			if !c.Alive(ctx) {
				c.log.Error("queue server unreachable during watch", "jobID", jobID)
				return ErrServerDown
			}
			c.log.Info("stream quiet, node alive, continuing", "jobID", jobID)
		}
	}
}

// readStream parses SSE-framed lines, forwarding each data payload. The
// first read error (including EOF) ends the stream. Sends race the context
// so the goroutine unwinds once the watcher stops listening.
func readStream(ctx context.Context, body io.Reader, out chan<- streamMessage) {
	reader := bufio.NewReader(body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			send(ctx, out, streamMessage{err: err})
			return
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if !strings.HasPrefix(trimmed, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(trimmed, "data:"))
		if payload == "" {
			continue
		}
		if !send(ctx, out, streamMessage{payload: json.RawMessage(payload)}) {
			return
		}
	}
}

func send(ctx context.Context, out chan<- streamMessage, msg streamMessage) bool {
	select {
	case out <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}
