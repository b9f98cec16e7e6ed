package jda

// DetectionStats collects counters during one detection pass.
type DetectionStats struct {
	Patches        int
	FacePatches    int
	NonFacePatches int
	// CartTraversals sums the carts gone through by the rejected patches.
	CartTraversals float64
	// AverageCarts is the average rejection depth, set when the pass completes.
	// It stays zero when no patch was rejected; use AverageRejectDepth to tell the cases apart.
	AverageCarts float64
}

// add records the verdict of one patch.
func (st *DetectionStats) add(v Verdict) {
	st.Patches++
	if v.Face {
		st.FacePatches++
		return
	}
	st.NonFacePatches++
	st.CartTraversals += float64(v.Carts)
}

// finish derives the averages once every patch has been recorded.
func (st *DetectionStats) finish() {
	st.AverageCarts, _ = st.AverageRejectDepth()
}

// AverageRejectDepth returns the average number of carts a non-face patch went through
// before being rejected. It is undefined, and ok is false, when no patch was rejected.
func (st *DetectionStats) AverageRejectDepth() (avg float64, ok bool) {
	if st.NonFacePatches == 0 {
		return 0, false
	}
	return st.CartTraversals / float64(st.NonFacePatches), true
}
