package video

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// errIPCClosed reports a request made after the player connection died.
var errIPCClosed = errors.New("video: ipc connection closed")

// ipcConn is the player control surface. It is an interface so engine tests
// can script responses without a socket.
type ipcConn interface {
	Command(args ...any) (json.RawMessage, error)
	GetProperty(name string, out any) error
	SetProperty(name string, value any) error
	LoadFile(path, mode string) error
	SetPause(paused bool) error
	Seek(seconds float64) error
	Close() error
}

// ipcClient speaks the player's JSON IPC: one request object per line,
// responses matched to requests by request_id. Asynchronous event objects
// carry no request_id and are skipped by the matcher.
type ipcClient struct {
	conn    net.Conn
	timeout time.Duration

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan ipcResponse
	closed  bool
}

type ipcResponse struct {
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data"`
	RequestID int64           `json:"request_id"`
}

func dialIPC(socket string, timeout time.Duration) (ipcConn, error) {
	conn, err := net.DialTimeout("unix", socket, timeout)
	if err != nil {
		return nil, fmt.Errorf("video: ipc dial: %w", err)
	}
	c := &ipcClient{
		conn:    conn,
		timeout: timeout,
		pending: make(map[int64]chan ipcResponse),
	}
	go c.readLoop()
	return c, nil
}

func (c *ipcClient) readLoop() {
	sc := bufio.NewScanner(c.conn)
	sc.Buffer(make([]byte, 0, 4096), 256*1024)
	for sc.Scan() {
		var resp ipcResponse
		if json.Unmarshal(sc.Bytes(), &resp) != nil || resp.RequestID == 0 {
			continue
		}
		c.mu.Lock()
		ch := c.pending[resp.RequestID]
		delete(c.pending, resp.RequestID)
		c.mu.Unlock()
		if ch != nil {
			ch <- resp
		}
	}

	// The connection is gone. Fail every request still in flight.
	c.mu.Lock()
	c.closed = true
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
	c.mu.Unlock()
}

// Command sends a raw command list and waits for the matching response.
func (c *ipcClient) Command(args ...any) (json.RawMessage, error) {
	ch := make(chan ipcResponse, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errIPCClosed
	}
	c.nextID++
	id := c.nextID
	c.pending[id] = ch
	req := struct {
		Command   []any `json:"command"`
		RequestID int64 `json:"request_id"`
	}{Command: args, RequestID: id}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	err := json.NewEncoder(c.conn).Encode(req)
	c.mu.Unlock()

	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("video: ipc send: %w", err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, errIPCClosed
		}
		if resp.Error != "" && resp.Error != "success" {
			return nil, fmt.Errorf("video: ipc %v: %s", args, resp.Error)
		}
		return resp.Data, nil
	case <-timer.C:
		c.forget(id)
		return nil, fmt.Errorf("video: ipc %v: no reply within %s", args, c.timeout)
	}
}

func (c *ipcClient) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *ipcClient) GetProperty(name string, out any) error {
	data, err := c.Command("get_property", name)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("video: property %s: %w", name, err)
	}
	return nil
}

func (c *ipcClient) SetProperty(name string, value any) error {
	_, err := c.Command("set_property", name, value)
	return err
}

func (c *ipcClient) LoadFile(path, mode string) error {
	_, err := c.Command("loadfile", path, mode)
	return err
}

func (c *ipcClient) SetPause(paused bool) error {
	return c.SetProperty("pause", paused)
}

func (c *ipcClient) Seek(seconds float64) error {
	_, err := c.Command("seek", seconds, "absolute")
	return err
}

func (c *ipcClient) Close() error {
	return c.conn.Close()
}
