package bloom

import (
	"bytes"
	"fmt"
	"testing"
)

func TestAddThenMayContain(t *testing.T) {
	flt := New(100, 10)

	keys := [][]byte{[]byte("apple"), []byte("banana"), []byte("cherry")}
	for _, k := range keys {
		flt.Add(k)
	}

	for _, k := range keys {
		if !flt.MayContain(k) {
			t.Fatalf("false negative for key %q", k)
		}
	}
}

func TestNoFalseNegatives(t *testing.T) {
	flt := New(1000, 10)

	keys := make([][]byte, 0, 1000)
	for i := 0; i < 1000; i++ {
		keys = append(keys, []byte(fmt.Sprintf("key%06d", i)))
	}

	for _, k := range keys {
		flt.Add(k)
	}

	for _, k := range keys {
		if !flt.MayContain(k) {
			t.Fatalf("false negative for key %q", k)
		}
	}
}

func TestFalsePositiveRateBound(t *testing.T) {
	const numKeys = 1000
	flt := New(numKeys, 10)

	for i := 0; i < numKeys; i++ {
		flt.Add([]byte(fmt.Sprintf("key%06d", i)))
	}

	falsePositives := 0
	const probes = 10000
	for i := numKeys; i < numKeys+probes; i++ {
		if flt.MayContain([]byte(fmt.Sprintf("key%06d", i))) {
			falsePositives++
		}
	}

	fpRate := float64(falsePositives) / float64(probes)
	if fpRate >= 0.02 {
		t.Fatalf("false positive rate too high: %.4f", fpRate)
	}
}

func TestNumHashesForDefaultBitsPerKey(t *testing.T) {
	if got := NumHashesFor(10); got != 7 {
		t.Fatalf("expected 7 hashes for 10 bits/key, got %d", got)
	}
}

func TestNumBitsForRespectsMinimum(t *testing.T) {
	if got := NumBitsFor(1, 10); got != MinBits {
		t.Fatalf("expected minimum of %d bits, got %d", MinBits, got)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	flt := New(100, 10)
	flt.Add([]byte("test1"))
	flt.Add([]byte("test2"))
	flt.Add([]byte("test3"))

	var buf bytes.Buffer
	if err := flt.EncodeTo(&buf); err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if !decoded.MayContain([]byte("test1")) || !decoded.MayContain([]byte("test2")) || !decoded.MayContain([]byte("test3")) {
		t.Fatal("decoded filter lost membership")
	}
}

func TestBitsPerKeyForFPRate(t *testing.T) {
	bits := BitsPerKeyForFPRate(0.01)
	if bits < 9 || bits > 10 {
		t.Fatalf("expected ~10 bits for 1%% FP rate, got %d", bits)
	}

	bits = BitsPerKeyForFPRate(0.001)
	if bits < 14 || bits > 15 {
		t.Fatalf("expected ~15 bits for 0.1%% FP rate, got %d", bits)
	}
}
