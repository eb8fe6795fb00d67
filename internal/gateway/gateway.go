// Package gateway holds what the orchestrator-facing boundaries share.
package gateway

import "context"

// Gateway is a boundary (HTTP, MCP stdio) that feeds calls to the
// dispatcher. Start blocks until the gateway stops or ctx ends; Stop shuts
// it down, waiting for in-flight calls until its ctx expires.
type Gateway interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
