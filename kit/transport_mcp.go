package kit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/atapdf/idgen"
)

// RegisterMCPTool exposes endpoint as tool on srv. The call arguments are
// decoded into a fresh *Req, which is what endpoint receives. Each call
// runs with the "mcp" transport and its own request ID. Endpoint errors are
// tool errors, not protocol errors, so the client sees the message; the
// response is returned as JSON text content.
func RegisterMCPTool[Req any](srv *mcp.Server, tool *mcp.Tool, endpoint Endpoint) {
	srv.AddTool(tool, func(ctx context.Context, call *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		req := new(Req)
		if len(call.Params.Arguments) > 0 {
			if err := json.Unmarshal(call.Params.Arguments, req); err != nil {
				return toolFailure(fmt.Errorf("invalid arguments: %w", err)), nil
			}
		}
		ctx = WithTransport(ctx, "mcp")
		if GetRequestID(ctx) == "" {
			ctx = WithRequestID(ctx, idgen.New())
		}

		resp, err := endpoint(ctx, req)
		if err != nil {
			return toolFailure(err), nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return toolFailure(fmt.Errorf("marshal: %w", err)), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

func toolFailure(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res
}
