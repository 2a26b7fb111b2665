package cache

import (
	"encoding/json"
	"testing"
)

func baseRequest() KeyRequest {
	return KeyRequest{
		ModelName:     "gpt-4o-mini",
		ModelProvider: "openai",
		Instruction:   "Summarize {{Title}}",
		RowData:       map[string]any{"Title": "A story", "Year": 2001},
		UsesSources:   false,
	}
}

func TestDeriveKeyIndependentOfFieldAssemblyOrder(t *testing.T) {
	a := baseRequest()
	a.RowData = map[string]any{"Title": "A story", "Year": 2001}

	b := baseRequest()
	b.RowData = map[string]any{"Year": 2001, "Title": "A story"}

	if DeriveKey(a, false) != DeriveKey(b, false) {
		t.Fatalf("key depends on map assembly order")
	}
}

func TestDeriveKeyNumericRepresentationsCollapse(t *testing.T) {
	a := baseRequest()
	a.RowData = map[string]any{"Year": int64(2001)}

	b := baseRequest()
	b.RowData = map[string]any{"Year": float64(2001)}

	c := baseRequest()
	c.RowData = map[string]any{"Year": json.Number("2001")}

	ka, kb, kc := DeriveKey(a, false), DeriveKey(b, false), DeriveKey(c, false)
	if ka != kb || kb != kc {
		t.Fatalf("numeric representations hash differently: %s %s %s", ka, kb, kc)
	}
}

func TestDeriveKeySensitiveToSemanticChanges(t *testing.T) {
	base := DeriveKey(baseRequest(), false)

	changed := baseRequest()
	changed.Instruction = "Translate {{Title}}"
	if DeriveKey(changed, false) == base {
		t.Fatalf("instruction change did not change key")
	}

	changed = baseRequest()
	changed.UsesSources = true
	if DeriveKey(changed, false) == base {
		t.Fatalf("uses_sources change did not change key")
	}

	changed = baseRequest()
	changed.Examples = []Example{{Input: "x", Output: "y"}}
	if DeriveKey(changed, false) == base {
		t.Fatalf("examples change did not change key")
	}
}

func TestDeriveKeyProcessVersionScoping(t *testing.T) {
	v1 := baseRequest()
	v1.ProcessVersion = 1
	v2 := baseRequest()
	v2.ProcessVersion = 2

	if DeriveKey(v1, false) != DeriveKey(v2, false) {
		t.Fatalf("version leaked into unscoped key")
	}
	if DeriveKey(v1, true) == DeriveKey(v2, true) {
		t.Fatalf("scoped key ignores process version")
	}
}
