package landmark

// Point is a single tracked keypoint. Visibility is only meaningful for pose points.
type Point struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility,omitempty"`
}

// Sample captures one frame of tracker output. A nil group means the tracker
// did not detect it in that frame.
type Sample struct {
	Pose      []Point `json:"pose,omitempty"`
	Face      []Point `json:"face,omitempty"`
	LeftHand  []Point `json:"left_hand,omitempty"`
	RightHand []Point `json:"right_hand,omitempty"`
}

// Vector is the flattened per-frame model input.
type Vector []float64

const (
	PosePoints = 33
	FacePoints = 468
	HandPoints = 21

	PoseLen = PosePoints * 4
	FaceLen = FacePoints * 3
	HandLen = HandPoints * 3

	// VectorLen is fixed regardless of which groups were detected.
	VectorLen = PoseLen + FaceLen + HandLen + HandLen
)

// Encode flattens s into a Vector of exactly VectorLen values in the order
// pose, face, left hand, right hand. Missing groups and missing trailing points
// are zero-filled; surplus points are ignored.
func Encode(s Sample) Vector {
	out := make(Vector, VectorLen)
	off := 0
	off = flatten(out, off, s.Pose, PosePoints, true)
	off = flatten(out, off, s.Face, FacePoints, false)
	off = flatten(out, off, s.LeftHand, HandPoints, false)
	flatten(out, off, s.RightHand, HandPoints, false)
	return out
}

func flatten(out Vector, off int, points []Point, expected int, visibility bool) int {
	stride := 3
	if visibility {
		stride = 4
	}
	n := len(points)
	if n > expected {
		n = expected
	}
	for i := 0; i < n; i++ {
		p := points[i]
		base := off + i*stride
		out[base] = p.X
		out[base+1] = p.Y
		out[base+2] = p.Z
		if visibility {
			out[base+3] = p.Visibility
		}
	}
	return off + expected*stride
}
