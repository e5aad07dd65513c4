package genai

import (
	"context"
	"testing"
)

func TestNewOpenAIGenerator_RequiresKey(t *testing.T) {
	if _, err := NewOpenAIGenerator(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestDraft_RequiresTopic(t *testing.T) {
	g, err := NewOpenAIGenerator("sk-test")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.Draft(context.Background(), "   "); err == nil {
		t.Error("expected error for blank topic")
	}
}

func TestWithModel(t *testing.T) {
	g, err := NewOpenAIGenerator("sk-test", WithModel("gpt-4o-mini"))
	if err != nil {
		t.Fatal(err)
	}
	if string(g.model) != "gpt-4o-mini" {
		t.Errorf("model = %s, want gpt-4o-mini", g.model)
	}
}
