package mcptools

import (
	"context"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// version is set by the linker at build time.
var version = "dev"

// NewQueryMCPServer creates an MCP server with the query tool registered.
func NewQueryMCPServer(router Router) *mcp.Server {
	svc := NewQueryService(router)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "querydesk",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name: "query",
		Description: "Answer a natural language question about Google Analytics 4 traffic, the website crawl table, or both joined by page URL. " +
			"Returns a narrative answer, the rows it is based on, and the number of attempts taken.",
	}, svc.Query)

	return server
}

// RunStdio runs server on stdio, blocking until stdin is closed or ctx is
// canceled.
func RunStdio(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}

// RunHTTP serves server over streamable HTTP on addr until ctx is canceled.
func RunHTTP(ctx context.Context, server *mcp.Server, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		httpServer.Shutdown(context.Background())
	}()

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
