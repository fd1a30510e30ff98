package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hezky/lab-heartbeat/internal/logging"
	"github.com/hezky/lab-heartbeat/internal/registry"
)

// superviseHandle is the cancellation handle shared between the controller
// and one supervision loop.
type superviseHandle struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func (h *superviseHandle) cancel() {
	h.once.Do(func() { close(h.stop) })
}

func (h *superviseHandle) cancelled() bool {
	select {
	case <-h.stop:
		return true
	default:
		return false
	}
}

// waitOrCancel sleeps for d, returning early with true if the handle is
// cancelled first.
func (h *superviseHandle) waitOrCancel(d time.Duration) bool {
	select {
	case <-h.stop:
		return true
	case <-time.After(d):
		return false
	}
}

// startSupervision launches the supervision loop for one child life. Any
// previous loop for the id is superseded in the map; it has already broken
// out (a loop starts its successor only as its last act).
func (c *Controller) startSupervision(id string, ch *child, cfg *registry.ProcessConfig, attempt int) {
	h := &superviseHandle{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	c.mu.Lock()
	c.loops[id] = h
	c.mu.Unlock()

	go c.supervise(id, ch, cfg, h, attempt)
}

// cancelSupervision cancels the loop for id and waits for it to finish. A
// loop caught mid-restart hands off to a successor loop as its last act, so
// keep draining until none remains.
func (c *Controller) cancelSupervision(id string) {
	for {
		c.mu.Lock()
		h := c.loops[id]
		delete(c.loops, id)
		c.mu.Unlock()

		if h == nil {
			return
		}
		h.cancel()
		<-h.done
	}
}

// supervise watches one child life and applies the restart policy when it
// exits. attempt counts supervised restarts within the current chain: it is
// threaded to the successor loop on each restart and reset to zero by a
// manual start, which grants a fresh budget. The persistent restart count
// keeps growing monotonically regardless.
func (c *Controller) supervise(id string, ch *child, cfg *registry.ProcessConfig, h *superviseHandle, attempt int) {
	defer func() {
		close(h.done)
		c.mu.Lock()
		// A restart has already installed its successor; leave that one.
		if c.loops[id] == h {
			delete(c.loops, id)
		}
		c.mu.Unlock()
	}()

	ctx := context.Background()

	for {
		select {
		case <-h.stop:
			return

		case <-ch.exited:
			code := ch.exitCode
			logging.Warn("process exited", "id", id, "exit_code", code, "attempt", attempt)

			// The cancellation check distinguishes an intentional stop from
			// the child dying on its own; a stopped child's state must not
			// be overwritten here.
			if !shouldRestart(cfg.RestartPolicy, code, attempt, cfg.MaxRetries) {
				if h.cancelled() {
					return
				}
				state := registry.StateStopped
				errMsg := ""
				if code != 0 {
					state = registry.StateFailed
					errMsg = fmt.Sprintf("exited with code %d", code)
				}
				if err := c.registry.UpdateState(ctx, id, state, nil, errMsg); err != nil {
					logging.Warn("failed to record exit state", "id", id, "error", err)
				}
				c.removeChild(id, ch)
				return
			}

			wait := c.backoff[min(attempt, len(c.backoff)-1)]
			logging.Info("restarting process",
				"id", id, "wait", wait.String(), "attempt", attempt+1)
			if h.waitOrCancel(wait) {
				return
			}

			if err := c.registry.IncrementRestartCount(ctx, id); err != nil {
				logging.Warn("failed to increment restart count", "id", id, "error", err)
			}

			// Demote the record before re-entering Start: the exited life is
			// over, and Start refuses records still marked running.
			if err := c.registry.UpdateState(ctx, id, registry.StateCrashed, nil,
				fmt.Sprintf("exited with code %d; restarting", code)); err != nil {
				logging.Warn("failed to record restart transition", "id", id, "error", err)
			}
			c.removeChild(id, ch)

			if err := c.start(ctx, id, attempt+1); err != nil {
				logging.Error("failed to restart process", "id", id, "error", err)
			}
			// This loop's child is gone; the fresh loop owns the next life.
			return

		case <-time.After(c.pollInterval):
		}
	}
}

// removeChild drops the in-memory handle if it still belongs to this life.
func (c *Controller) removeChild(id string, ch *child) {
	c.mu.Lock()
	if c.children[id] == ch {
		delete(c.children, id)
	}
	c.mu.Unlock()
}

// shouldRestart applies the restart policy to an exit. unless-stopped
// restarts on any exit, clean or not: a manual stop cancels the loop before
// this decision is reached, so reaching it means the child died on its own.
func shouldRestart(policy registry.RestartPolicy, exitCode, attempt, maxRetries int) bool {
	switch policy {
	case registry.RestartNever:
		return false
	case registry.RestartAlways:
		return attempt < maxRetries
	case registry.RestartOnFailure:
		return exitCode != 0 && attempt < maxRetries
	case registry.RestartUnlessStopped:
		return attempt < maxRetries
	}
	return false
}
