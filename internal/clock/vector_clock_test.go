package clock

import (
	"testing"
)

func TestIncrement(t *testing.T) {
	v := New()
	v = v.Increment("peer1")
	if v.Get("peer1") != 1 {
		t.Errorf("Expected 1, got %d", v.Get("peer1"))
	}
	v = v.Increment("peer1")
	if v.Get("peer1") != 2 {
		t.Errorf("Expected 2, got %d", v.Get("peer1"))
	}
}

func TestIncrementNil(t *testing.T) {
	var v VectorClock
	v = v.Increment("peer1")
	if v.Get("peer1") != 1 {
		t.Errorf("Expected 1, got %d", v.Get("peer1"))
	}
}

func TestMerge(t *testing.T) {
	v1 := VectorClock{"a": 1, "b": 2}
	v2 := VectorClock{"a": 3, "c": 4}
	merged := v1.Merge(v2)
	if merged["a"] != 3 || merged["b"] != 2 || merged["c"] != 4 {
		t.Errorf("Merge failed: %v", merged)
	}
}

func TestMergeDoesNotMutateOperands(t *testing.T) {
	v1 := VectorClock{"a": 1}
	v2 := VectorClock{"a": 5}
	_ = v1.Merge(v2)
	if v1["a"] != 1 || v2["a"] != 5 {
		t.Errorf("Merge must not mutate its operands: %v %v", v1, v2)
	}
}

func TestCompare(t *testing.T) {
	v1 := VectorClock{"a": 1, "b": 2}
	v2 := VectorClock{"a": 1, "b": 2}
	if v1.Compare(v2) != Equal {
		t.Error("Expected Equal")
	}

	v3 := VectorClock{"a": 2, "b": 2}
	if v1.Compare(v3) != Less {
		t.Error("Expected Less")
	}

	v4 := VectorClock{"a": 0, "b": 2}
	if v1.Compare(v4) != Greater {
		t.Error("Expected Greater")
	}

	v5 := VectorClock{"a": 2, "b": 1}
	if v1.Compare(v5) != Concurrent {
		t.Error("Expected Concurrent")
	}
}

func TestCompareReflexiveEqual(t *testing.T) {
	v := VectorClock{"a": 3, "b": 7}
	if v.Compare(v) != Equal {
		t.Error("a clock must compare Equal to itself")
	}
}

func TestCompareAntisymmetric(t *testing.T) {
	v1 := VectorClock{"a": 1}
	v2 := VectorClock{"a": 2}
	if v1.Compare(v2) != Less {
		t.Fatal("expected Less")
	}
	if v2.Compare(v1) != Greater {
		t.Error("Less must invert to Greater when operands swap")
	}
}

func TestCompareConcurrentSymmetric(t *testing.T) {
	v1 := VectorClock{"a": 1}
	v2 := VectorClock{"b": 1}
	if v1.Compare(v2) != Concurrent {
		t.Fatal("expected Concurrent")
	}
	if v2.Compare(v1) != Concurrent {
		t.Error("Concurrent must be symmetric")
	}
}

func TestClone(t *testing.T) {
	v := VectorClock{"a": 1, "b": 2}
	cloned := v.Clone()
	if cloned["a"] != 1 || cloned["b"] != 2 {
		t.Errorf("Clone failed: %v", cloned)
	}
	cloned["a"] = 3
	if v["a"] != 1 {
		t.Error("Clone should be independent")
	}
}

func TestCloneNil(t *testing.T) {
	var v VectorClock
	cloned := v.Clone()
	if cloned != nil {
		t.Error("Clone of nil should be nil")
	}
}