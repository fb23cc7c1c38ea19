package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestCollectItemsFromArgs(t *testing.T) {
	items, err := collectItems([]string{"steam:alpha", "gog:beta"}, "")
	if err != nil {
		t.Fatalf("collectItems: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	if items[0].Platform != "steam" || items[0].Code != "alpha" {
		t.Errorf("items[0] = %+v", items[0])
	}
	if items[1].Platform != "gog" || items[1].Code != "beta" {
		t.Errorf("items[1] = %+v", items[1])
	}
}

func TestCollectItemsRejectsMalformedArg(t *testing.T) {
	for _, arg := range []string{"alpha", ":alpha", "steam:"} {
		if _, err := collectItems([]string{arg}, ""); err == nil {
			t.Errorf("arg %q accepted, want error", arg)
		}
	}
}

func TestCollectItemsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.json")
	payload := []map[string]string{
		{"platform": "steam", "code": "alpha"},
		{"platform": "epic", "code": "beta"},
	}
	data, _ := json.Marshal(payload)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	items, err := collectItems([]string{"gog:gamma"}, path)
	if err != nil {
		t.Fatalf("collectItems: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("items = %d, want 3", len(items))
	}
	// File items come first, then argument items.
	if items[0].Code != "alpha" || items[2].Code != "gamma" {
		t.Errorf("order = [%s %s %s]", items[0].Code, items[1].Code, items[2].Code)
	}
}

func TestCollectItemsRequiresAtLeastOne(t *testing.T) {
	if _, err := collectItems(nil, ""); err == nil {
		t.Error("empty input accepted, want error")
	}
}
