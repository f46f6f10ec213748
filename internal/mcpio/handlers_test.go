package mcpio

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/geopm/geopmd/internal/iogroup/timeio"
	"github.com/geopm/geopmd/internal/platformio"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	pio := platformio.New(nil, func() float64 { return 0 })
	pio.Register(timeio.New())
	return NewServer(pio, "test")
}

func toolRequest(args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{Params: mcp.CallToolParams{Arguments: args}}
}

func TestHandleListSignalsIncludesElapsed(t *testing.T) {
	s := newTestServer(t)
	res, err := s.handleListSignals(context.Background(), toolRequest(nil))
	if err != nil {
		t.Fatalf("handleListSignals: %v", err)
	}
	if !strings.Contains(resultText(t, res), "ELAPSED") {
		t.Errorf("expected ELAPSED in %s", resultText(t, res))
	}
}

func TestHandlePushSignalThenSample(t *testing.T) {
	s := newTestServer(t)
	pushRes, err := s.handlePushSignal(context.Background(), toolRequest(map[string]interface{}{
		"name": "ELAPSED",
	}))
	if err != nil {
		t.Fatalf("handlePushSignal: %v", err)
	}
	var pushed struct {
		Handle int `json:"handle"`
	}
	if err := json.Unmarshal([]byte(resultText(t, pushRes)), &pushed); err != nil {
		t.Fatalf("unmarshal push result: %v", err)
	}

	if _, err := s.handleReadBatch(context.Background(), toolRequest(nil)); err != nil {
		t.Fatalf("handleReadBatch: %v", err)
	}

	sampleRes, err := s.handleSample(context.Background(), toolRequest(map[string]interface{}{
		"handle": float64(pushed.Handle),
	}))
	if err != nil {
		t.Fatalf("handleSample: %v", err)
	}
	var sampled struct {
		Value float64 `json:"value"`
	}
	if err := json.Unmarshal([]byte(resultText(t, sampleRes)), &sampled); err != nil {
		t.Fatalf("unmarshal sample result: %v", err)
	}
	if sampled.Value < 0 {
		t.Errorf("expected non-negative elapsed value, got %v", sampled.Value)
	}
}

func TestHandleSampleRejectsUnknownHandle(t *testing.T) {
	s := newTestServer(t)
	res, err := s.handleSample(context.Background(), toolRequest(map[string]interface{}{"handle": float64(7)}))
	if err != nil {
		t.Fatalf("handleSample: %v", err)
	}
	if !res.IsError {
		t.Error("expected an error result for an unpushed handle")
	}
}

func TestHandleReadSignalRejectsUnknownDomain(t *testing.T) {
	s := newTestServer(t)
	res, err := s.handleReadSignal(context.Background(), toolRequest(map[string]interface{}{
		"name":   "ELAPSED",
		"domain": "not-a-domain",
	}))
	if err != nil {
		t.Fatalf("handleReadSignal: %v", err)
	}
	if !res.IsError {
		t.Error("expected an error result for an invalid domain name")
	}
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("expected exactly one content block, got %d", len(res.Content))
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", res.Content[0])
	}
	return text.Text
}
