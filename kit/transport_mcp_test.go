package kit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type echoReq struct {
	Name string `json:"name"`
}

type echoResp struct {
	Name      string `json:"name"`
	Transport string `json:"transport"`
	RequestID string `json:"request_id"`
}

func mcpSession(t *testing.T, srv *mcp.Server) *mcp.ClientSession {
	t.Helper()
	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(&mcp.Implementation{Name: "kit-test", Version: "0"}, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func TestRegisterMCPTool(t *testing.T) {
	// WHAT: arguments decode into the typed request; the call carries the
	// mcp transport and a fresh request ID.
	srv := mcp.NewServer(&mcp.Implementation{Name: "kit", Version: "0"}, nil)
	schema := map[string]any{"type": "object", "properties": map[string]any{"name": map[string]any{"type": "string"}}}
	RegisterMCPTool[echoReq](srv, &mcp.Tool{Name: "echo", InputSchema: schema}, func(ctx context.Context, req any) (any, error) {
		r := req.(*echoReq)
		return echoResp{Name: r.Name, Transport: GetTransport(ctx), RequestID: GetRequestID(ctx)}, nil
	})
	RegisterMCPTool[echoReq](srv, &mcp.Tool{Name: "fail", InputSchema: schema}, func(context.Context, any) (any, error) {
		return nil, errors.New("boom")
	})
	session := mcpSession(t, srv)

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "echo",
		Arguments: map[string]any{"name": "report.pdf"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %+v", res.Content)
	}
	var got echoResp
	if err := json.Unmarshal([]byte(res.Content[0].(*mcp.TextContent).Text), &got); err != nil {
		t.Fatal(err)
	}
	if got.Name != "report.pdf" || got.Transport != "mcp" || got.RequestID == "" {
		t.Errorf("got %+v", got)
	}

	// WHY: endpoint failures reach the client as tool errors, not as a
	// broken session.
	res, err = session.CallTool(context.Background(), &mcp.CallToolParams{Name: "fail", Arguments: map[string]any{}})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("endpoint error not reported as tool error")
	}
}
