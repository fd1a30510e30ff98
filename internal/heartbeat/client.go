package heartbeat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hezky/lab-heartbeat/internal/logging"
)

// Client is embedded in children to announce liveness to the supervisor.
// The child passes its own process id to NewClient; the supervisor does not
// export that id into the child's environment. The manager URL defaults to
// the local supervisor.
type Client struct {
	processID  string
	managerURL string
	interval   time.Duration
	httpClient *http.Client

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// NewClient creates a heartbeat client for the process id. An empty
// managerURL targets http://localhost:8080.
func NewClient(processID, managerURL string) *Client {
	if managerURL == "" {
		managerURL = "http://localhost:8080"
	}
	return &Client{
		processID:  processID,
		managerURL: managerURL,
		interval:   10 * time.Second,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Start begins sending heartbeats periodically until Stop.
func (c *Client) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.stoppedCh = make(chan struct{})

	go func() {
		defer close(c.stoppedCh)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			if err := c.Send(context.Background()); err != nil {
				logging.Warn("failed to send heartbeat", "process_id", c.processID, "error", err)
			}
			select {
			case <-c.stopCh:
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop ends the periodic heartbeats and waits for the sender to finish.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	c.mu.Unlock()

	<-c.stoppedCh
}

// Send delivers a single heartbeat now.
func (c *Client) Send(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{"process_id": c.processID})
	if err != nil {
		return fmt.Errorf("failed to marshal heartbeat: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.managerURL+"/api/heartbeat", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build heartbeat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send heartbeat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("heartbeat rejected with status %d", resp.StatusCode)
	}
	return nil
}
