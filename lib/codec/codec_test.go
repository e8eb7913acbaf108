// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"strings"
	"testing"
)

type calculation struct {
	A      int               `cbor:"a" json:"a"`
	B      int               `cbor:"b" json:"b"`
	Labels map[string]string `cbor:"labels,omitempty" json:"labels,omitempty"`
}

func TestCodecsRoundTrip(t *testing.T) {
	for _, c := range []Codec{CBOR, JSON} {
		t.Run(c.Name(), func(t *testing.T) {
			original := calculation{A: 10, B: 5, Labels: map[string]string{"op": "sum"}}
			data, err := c.Marshal(original)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			var decoded calculation
			if err := c.Unmarshal(data, &decoded); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if decoded.A != 10 || decoded.B != 5 || decoded.Labels["op"] != "sum" {
				t.Errorf("decoded %+v, want %+v", decoded, original)
			}
		})
	}
}

func TestCBORDeterministic(t *testing.T) {
	first := map[string]int{"zeta": 1, "alpha": 2, "mid": 3}
	second := map[string]int{"mid": 3, "alpha": 2, "zeta": 1}

	a, err := CBOR.Marshal(first)
	if err != nil {
		t.Fatal(err)
	}
	b, err := CBOR.Marshal(second)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Errorf("equal maps encoded differently: %x vs %x", a, b)
	}
}

func TestCBORAnyTargetsUseStringKeys(t *testing.T) {
	data, err := CBOR.Marshal(map[string]any{"nested": map[string]any{"value": 1}})
	if err != nil {
		t.Fatal(err)
	}
	var decoded any
	if err := CBOR.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	outer, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded %T, want map[string]any", decoded)
	}
	if _, ok := outer["nested"].(map[string]any); !ok {
		t.Errorf("nested value is %T, want map[string]any", outer["nested"])
	}
}

func TestLookup(t *testing.T) {
	for _, c := range []Codec{CBOR, JSON} {
		byID, err := ByID(c.ID())
		if err != nil || byID != c {
			t.Errorf("ByID(%d) = %v, %v", c.ID(), byID, err)
		}
		byName, err := ByName(c.Name())
		if err != nil || byName != c {
			t.Errorf("ByName(%q) = %v, %v", c.Name(), byName, err)
		}
	}

	if c, err := ByName(""); err != nil || c != CBOR {
		t.Errorf("ByName(\"\") = %v, %v, want CBOR", c, err)
	}
	if _, err := ByID(0); err == nil {
		t.Error("ByID(0) succeeded")
	}
	if _, err := ByName("protobuf"); err == nil || !strings.Contains(err.Error(), "protobuf") {
		t.Errorf("ByName(protobuf) error = %v", err)
	}
}

func TestDiagnose(t *testing.T) {
	data, err := CBOR.Marshal(calculation{A: 1, B: 2})
	if err != nil {
		t.Fatal(err)
	}
	text, err := Diagnose(data)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, `"a": 1`) {
		t.Errorf("Diagnose = %s, want it to contain the a field", text)
	}
}
