package agentbackend

import "strings"

// fallbackContextWindow is the value a malformed agent state payload
// would otherwise downgrade a known-large context window to (spec.md
// §4.G "guards against a malformed payload that would downgrade a known
// large window to a fallback 200 000").
const fallbackContextWindow = 200_000

// rawState is the shape of an agent get_state reply used for identity
// reconciliation after an identity-mutating command.
type rawState struct {
	TraceFilePath string `json:"traceFilePath"`
	TraceID       string `json:"traceId"`
	SessionName   string `json:"sessionName"`
	Provider      string `json:"provider"`
	ModelID       string `json:"modelId"`
	ThinkingLevel string `json:"thinkingLevel"`
	ContextWindow int    `json:"contextWindow"`
}

// Reconcile builds a StateSnapshot from a raw agent state reply, applying
// composeModelId's double-prefix guard and the context-window downgrade
// guard, then invokes the adapter's OnStateReconcile callback.
//
// composeModelId avoids double-prefixing: if modelId already carries the
// "provider/" prefix (some agent backends echo the canonical form back
// verbatim), it is used as-is rather than being prefixed a second time.
func (a *Adapter) Reconcile(prevContextWindow int, raw rawState) StateSnapshot {
	snap := StateSnapshot{
		TraceFilePath: raw.TraceFilePath,
		TraceID:       raw.TraceID,
		SessionName:   raw.SessionName,
		ThinkingLevel: raw.ThinkingLevel,
		Model:         composeModelID(raw.Provider, raw.ModelID),
		ContextWindow: raw.ContextWindow,
	}

	if snap.ContextWindow == 0 || (snap.ContextWindow == fallbackContextWindow && prevContextWindow > fallbackContextWindow) {
		snap.ContextWindow = prevContextWindow
	}

	a.cb.OnStateReconcile(snap)
	return snap
}

// composeModelID joins provider and modelId into the canonical
// "provider/modelId" form, without double-prefixing if modelId already
// carries it.
func composeModelID(provider, modelID string) string {
	if provider == "" {
		return modelID
	}
	if strings.HasPrefix(modelID, provider+"/") {
		return modelID
	}
	return provider + "/" + modelID
}
