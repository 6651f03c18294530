package krishisahay_test

import (
	"testing"

	krishisahay "github.com/krishisahay/camera-sdk-go"
)

func TestMAF(t *testing.T) {
	m0 := &krishisahay.MAF{}
	_, err := m0.Update(map[string]float64{"Leaf Blight": 1.5})
	if err == nil {
		t.Errorf("missing error for MAF created without NewMAF")
	}

	m0, err = krishisahay.NewMAF(3, "a", "b")
	if err != nil {
		t.Fatalf("making new MAF: %v", err)
	}

	r, err := m0.Update(map[string]float64{"a": 1, "b": 2})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if r["a"] != 1.0/3 || r["b"] != 2.0/3 {
		t.Fatalf("unexpected result after Update: %v", r)
	}
	r, _ = m0.Update(map[string]float64{"a": 1, "b": 2})
	if r["a"] != 2.0/3 || r["b"] != 4.0/3 {
		t.Fatalf("unexpected result after Update: %v", r)
	}
	r, _ = m0.Update(map[string]float64{"a": 1, "b": 2})
	if r["a"] != 3.0/3 || r["b"] != 6.0/3 {
		t.Fatalf("unexpected result after Update: %v", r)
	}
	r, _ = m0.Update(map[string]float64{"a": 1, "b": 2})
	if r["a"] != 3.0/3 || r["b"] != 6.0/3 {
		t.Fatalf("unexpected result after Update: %v", r)
	}

	// Absent classes decay, new classes join.
	r, _ = m0.Update(map[string]float64{"c": 3})
	if r["a"] != 2.0/3 || r["b"] != 4.0/3 || r["c"] != 1 {
		t.Fatalf("unexpected result after Update with new class: %v", r)
	}

	r, err = m0.Update(nil)
	if err != nil {
		t.Fatalf("update with no detections: %v", err)
	}
	if len(r) != 3 {
		t.Fatalf("expected all known classes in result, got %v", r)
	}

	_, err = krishisahay.NewMAF(0, "a")
	if err == nil {
		t.Fatalf("missing error for new MAF with size 0")
	}
}
