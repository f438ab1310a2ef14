package store

import (
	"github.com/agentrelay/gateway/internal/pairing"
	"github.com/agentrelay/gateway/internal/permission"
	"github.com/agentrelay/gateway/internal/rules"
)

// Stores bundles every persistence seam the gateway needs, replacing the
// teacher's much larger managed-mode internal/store/stores.go bundle
// (Agents/Providers/Tracing/MCP/... all dropped — not in scope here).
type Stores struct {
	Sessions SessionStore
	Rules    rules.Store
	Audit    permission.AuditStore
	Pairing  pairing.Store
}
