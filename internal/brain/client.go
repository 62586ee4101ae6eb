// Package brain implements the wire client for the external classifier.
//
// The classifier is a long-running process serving a ZeroMQ REP socket.
// The driver sends one batch request at a time and receives one reply;
// the worker goroutine is the socket's sole user.
package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-zeromq/zmq4"

	"github.com/magicfolder/magicfolder/internal/logging"
)

// Client is a REQ-side connection to the classifier.
type Client struct {
	endpoint string
	timeout  time.Duration

	mu        sync.Mutex
	sock      zmq4.Socket
	connected atomic.Bool
}

// New creates a client for the given ZeroMQ endpoint
// (e.g. "ipc:///tmp/magic_brain.ipc").
func New(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		timeout:  timeout,
	}
}

// Dial connects the REQ socket.
func (c *Client) Dial(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dialLocked(ctx)
}

func (c *Client) dialLocked(ctx context.Context) error {
	sock := zmq4.NewReq(ctx,
		zmq4.WithTimeout(c.timeout),
		zmq4.WithDialerRetry(time.Second),
	)
	if err := sock.Dial(c.endpoint); err != nil {
		sock.Close()
		return fmt.Errorf("dial %s: %w", c.endpoint, err)
	}
	c.sock = sock
	c.connected.Store(true)
	return nil
}

// DialWithRetry keeps dialing with exponential backoff until the
// classifier is reachable or ctx is cancelled. Used at filesystem init so
// a driver started before the classifier converges once it comes up.
func (c *Client) DialWithRetry(ctx context.Context) error {
	const maxWait = 30 * time.Second
	wait := 500 * time.Millisecond

	for attempt := 1; ; attempt++ {
		err := c.Dial(ctx)
		if err == nil {
			logging.Info("connected to classifier", logging.String("endpoint", c.endpoint))
			return nil
		}
		if attempt == 1 {
			logging.Warn("classifier unreachable, retrying",
				logging.String("endpoint", c.endpoint), logging.Err(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
		if wait > maxWait {
			wait = maxWait
		}
	}
}

// Connected reports whether the socket has been dialed.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Close tears down the socket.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected.Store(false)
	if c.sock == nil {
		return nil
	}
	err := c.sock.Close()
	c.sock = nil
	return err
}

// request is the batch request body: absolute backing-store paths.
type request struct {
	Files []string `json:"files"`
}

// verdict is one classified path in the reply.
type verdict struct {
	Path     string `json:"path"`
	Category string `json:"category"`
}

// replyEnvelope covers the reply shapes the classifier emits.
type replyEnvelope struct {
	Files   []verdict `json:"files"`
	Results []verdict `json:"results"`
}

// Classify sends a batch of absolute paths and returns the category per
// path. Paths missing from the reply are simply absent from the result
// map; the caller treats them as rejections. Any transport failure is
// returned as an error and the caller rejects the whole batch.
func (c *Client) Classify(paths []string) (map[string]string, error) {
	if len(paths) == 0 {
		return map[string]string{}, nil
	}
	if !c.connected.Load() {
		return nil, fmt.Errorf("classifier not connected")
	}

	body, err := json.Marshal(request{Files: paths})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()
	if sock == nil {
		return nil, fmt.Errorf("classifier not connected")
	}

	if err := sock.Send(zmq4.NewMsg(body)); err != nil {
		c.reset()
		return nil, fmt.Errorf("send: %w", err)
	}

	msg, err := sock.Recv()
	if err != nil {
		// A REQ socket that missed its reply is wedged; reconnect so
		// the next batch starts from a clean request state.
		c.reset()
		return nil, fmt.Errorf("recv: %w", err)
	}
	if len(msg.Frames) == 0 {
		return nil, fmt.Errorf("empty reply")
	}

	return parseReply(msg.Frames[0]), nil
}

// reset drops the wedged socket and best-effort redials.
func (c *Client) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected.Store(false)
	if c.sock != nil {
		c.sock.Close()
		c.sock = nil
	}
	if err := c.dialLocked(context.Background()); err != nil {
		logging.Warn("classifier reconnect failed", logging.Err(err))
	}
}

// parseReply extracts the path→category mapping from the reply document.
// Accepted shapes: {"files":[{...}]}, {"results":[{...}]}, a bare array,
// or a single object. Entries without a path or category are dropped.
func parseReply(data []byte) map[string]string {
	out := make(map[string]string)

	collect := func(list []verdict) {
		for _, v := range list {
			if v.Path != "" && v.Category != "" {
				out[v.Path] = v.Category
			}
		}
	}

	var env replyEnvelope
	if err := json.Unmarshal(data, &env); err == nil {
		collect(env.Files)
		collect(env.Results)
		if len(out) > 0 {
			return out
		}
	}

	var list []verdict
	if err := json.Unmarshal(data, &list); err == nil {
		collect(list)
		if len(out) > 0 {
			return out
		}
	}

	var single verdict
	if err := json.Unmarshal(data, &single); err == nil {
		collect([]verdict{single})
	}
	return out
}
