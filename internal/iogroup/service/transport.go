package service

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/geopm/geopmd/internal/geopmerr"
)

// Transport is the control-channel wire protocol: one newline-delimited
// JSON request per call, one newline-delimited JSON response back.
// spec.md §9 lists "transport/RPC protocol details" as a Non-goal, so
// this is deliberately the simplest framing that satisfies the request
// vocabulary of §4.3, not a specific established wire protocol.
type Transport interface {
	Call(method string, params, result interface{}) error
	Close() error
}

// unixTransport is a Transport over a Unix domain socket to the
// privileged peer, with an optional per-call timeout.
type unixTransport struct {
	mu      sync.Mutex
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
}

// DialUnix connects to the peer's control-channel socket at path.
// timeout, if non-zero, bounds every Call; spec.md §5 says a service
// backend "may be configured with a per-call timeout" and a timeout
// failure is reported through the normal error path, not retried.
func DialUnix(path string, timeout time.Duration) (Transport, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, geopmerr.Wrap(geopmerr.Io, "service.dial", path, err)
	}
	return &unixTransport{conn: conn, reader: bufio.NewReader(conn), timeout: timeout}, nil
}

func (t *unixTransport) Call(method string, params, result interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return geopmerr.Wrap(geopmerr.Logic, "service.call", method, err)
	}
	req := request{Method: method, Params: paramsJSON}
	line, err := json.Marshal(req)
	if err != nil {
		return geopmerr.Wrap(geopmerr.Logic, "service.call", method, err)
	}

	if t.timeout > 0 {
		t.conn.SetDeadline(time.Now().Add(t.timeout))
		defer t.conn.SetDeadline(time.Time{})
	}

	if _, err := t.conn.Write(append(line, '\n')); err != nil {
		return geopmerr.Wrap(geopmerr.Io, "service.call", method, err)
	}

	respLine, err := t.reader.ReadBytes('\n')
	if err != nil {
		return geopmerr.Wrap(geopmerr.Io, "service.call", method, err)
	}
	var resp response
	if err := json.Unmarshal(respLine, &resp); err != nil {
		return geopmerr.Wrap(geopmerr.MalformedConfig, "service.call", method, err)
	}
	if resp.Error != "" {
		return geopmerr.New(geopmerr.Io, "service.call", method+": "+resp.Error)
	}
	if result != nil && resp.Result != nil {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return geopmerr.Wrap(geopmerr.MalformedConfig, "service.call", method, err)
		}
	}
	return nil
}

func (t *unixTransport) Close() error {
	return t.conn.Close()
}

// batchChannel streams read/write vectors of doubles for one active
// batch, separate from the control channel's request/response traffic.
type batchChannel interface {
	ReadVector(n int) ([]float64, error)
	WriteVector(values []float64) error
	Close() error
}

type unixBatchChannel struct {
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
}

func dialBatchChannel(endpoint string, timeout time.Duration) (batchChannel, error) {
	conn, err := net.Dial("unix", endpoint)
	if err != nil {
		return nil, geopmerr.Wrap(geopmerr.Io, "service.dial_batch", endpoint, err)
	}
	return &unixBatchChannel{conn: conn, reader: bufio.NewReader(conn), timeout: timeout}, nil
}

func (c *unixBatchChannel) setDeadline() {
	if c.timeout > 0 {
		c.conn.SetDeadline(time.Now().Add(c.timeout))
	}
}

func (c *unixBatchChannel) ReadVector(n int) ([]float64, error) {
	c.setDeadline()
	if _, err := c.conn.Write([]byte("poll\n")); err != nil {
		return nil, geopmerr.Wrap(geopmerr.Io, "service.read_vector", "", err)
	}
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return nil, geopmerr.Wrap(geopmerr.Io, "service.read_vector", "", err)
	}
	var values []float64
	if err := json.Unmarshal(line, &values); err != nil {
		return nil, geopmerr.Wrap(geopmerr.MalformedConfig, "service.read_vector", "", err)
	}
	if len(values) != n {
		return nil, geopmerr.New(geopmerr.Io, "service.read_vector", "unexpected vector length")
	}
	return values, nil
}

func (c *unixBatchChannel) WriteVector(values []float64) error {
	c.setDeadline()
	line, err := json.Marshal(values)
	if err != nil {
		return geopmerr.Wrap(geopmerr.Logic, "service.write_vector", "", err)
	}
	if _, err := c.conn.Write(append(line, '\n')); err != nil {
		return geopmerr.Wrap(geopmerr.Io, "service.write_vector", "", err)
	}
	return nil
}

func (c *unixBatchChannel) Close() error {
	return c.conn.Close()
}
