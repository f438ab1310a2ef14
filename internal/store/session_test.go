package store

import "testing"

func TestModelRoundTripSimple(t *testing.T) {
	canonical := JoinModel("anthropic", "claude-opus-4")
	provider, modelID := SplitModel(canonical)
	if provider != "anthropic" || modelID != "claude-opus-4" {
		t.Fatalf("round trip mismatch: provider=%q modelID=%q", provider, modelID)
	}
	if JoinModel(provider, modelID) != canonical {
		t.Fatalf("re-joining the split parts did not reproduce the canonical id")
	}
}

func TestModelRoundTripModelIDWithSlash(t *testing.T) {
	canonical := "openai/gpt-4/turbo"
	provider, modelID := SplitModel(canonical)
	if provider != "openai" {
		t.Fatalf("expected provider openai, got %q", provider)
	}
	if modelID != "gpt-4/turbo" {
		t.Fatalf("expected modelId to retain its internal slash, got %q", modelID)
	}
	if JoinModel(provider, modelID) != canonical {
		t.Fatalf("round trip did not reproduce canonical id for a slash-bearing modelId")
	}
}

func TestModelRoundTripNoDoublePrefix(t *testing.T) {
	canonical := JoinModel("anthropic", "claude-opus-4")
	provider, modelID := SplitModel(canonical)
	rejoined := JoinModel(provider, modelID)
	if rejoined != canonical {
		t.Fatalf("round trip introduced a double prefix: %q != %q", rejoined, canonical)
	}
}
