package landmark

import "testing"

func points(n int, seed float64) []Point {
	out := make([]Point, n)
	for i := range out {
		v := seed + float64(i)
		out[i] = Point{X: v, Y: v + 0.1, Z: v + 0.2, Visibility: 0.9}
	}
	return out
}

func TestEncodeLengthForEveryGroupSubset(t *testing.T) {
	for mask := 0; mask < 16; mask++ {
		var s Sample
		if mask&1 != 0 {
			s.Pose = points(PosePoints, 1)
		}
		if mask&2 != 0 {
			s.Face = points(FacePoints, 2)
		}
		if mask&4 != 0 {
			s.LeftHand = points(HandPoints, 3)
		}
		if mask&8 != 0 {
			s.RightHand = points(HandPoints, 4)
		}
		if got := len(Encode(s)); got != VectorLen {
			t.Fatalf("mask %04b: expected length %d, got %d", mask, VectorLen, got)
		}
	}
	if VectorLen != 1662 {
		t.Fatalf("expected vector length 1662, got %d", VectorLen)
	}
}

func TestEncodeGroupOrderAndVisibility(t *testing.T) {
	s := Sample{
		Pose:      []Point{{X: 1, Y: 2, Z: 3, Visibility: 0.5}},
		Face:      []Point{{X: 4, Y: 5, Z: 6}},
		LeftHand:  []Point{{X: 7, Y: 8, Z: 9}},
		RightHand: []Point{{X: 10, Y: 11, Z: 12}},
	}
	v := Encode(s)

	want := map[int]float64{
		0: 1, 1: 2, 2: 3, 3: 0.5,
		PoseLen: 4, PoseLen + 1: 5, PoseLen + 2: 6,
		PoseLen + FaceLen: 7, PoseLen + FaceLen + 2: 9,
		PoseLen + FaceLen + HandLen: 10, PoseLen + FaceLen + HandLen + 2: 12,
	}
	for idx, expected := range want {
		if v[idx] != expected {
			t.Fatalf("index %d: expected %v, got %v", idx, expected, v[idx])
		}
	}
	// face points carry no visibility slot: the second face point starts right after the first.
	if v[PoseLen+3] != 0 {
		t.Fatalf("expected zero-padded second face point, got %v", v[PoseLen+3])
	}
}

func TestEncodeAbsentGroupIsZeroFilled(t *testing.T) {
	s := Sample{RightHand: points(HandPoints, 1)}
	v := Encode(s)
	for i := 0; i < PoseLen+FaceLen+HandLen; i++ {
		if v[i] != 0 {
			t.Fatalf("expected zero at %d, got %v", i, v[i])
		}
	}
	if v[PoseLen+FaceLen+HandLen] != 1 {
		t.Fatalf("expected right hand segment to start with 1, got %v", v[PoseLen+FaceLen+HandLen])
	}
}

func TestEncodeTruncatesSurplusPoints(t *testing.T) {
	s := Sample{LeftHand: points(HandPoints+5, 1)}
	v := Encode(s)
	if len(v) != VectorLen {
		t.Fatalf("expected length %d, got %d", VectorLen, len(v))
	}
	right := v[PoseLen+FaceLen+HandLen:]
	for i, x := range right {
		if x != 0 {
			t.Fatalf("surplus left hand point leaked into right hand at %d", i)
		}
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	s := Sample{Pose: points(PosePoints, 0.25), Face: points(10, 3)}
	a, b := Encode(s), Encode(s)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("encode not deterministic at %d", i)
		}
	}
}
