package detection

import (
	"fmt"
	"strings"
)

// LabelText renders kept boxes as YOLO label lines: "classId cx cy w h",
// geometry normalized by image size and fixed to six decimals.
func LabelText(set SuppressedDetectionSet) (string, error) {
	if len(set.Boxes) == 0 {
		return "", nil
	}
	if set.Width <= 0 || set.Height <= 0 {
		return "", fmt.Errorf("invalid image dimensions %dx%d", set.Width, set.Height)
	}

	w := float64(set.Width)
	h := float64(set.Height)

	var b strings.Builder
	for _, box := range set.Boxes {
		cx := (box.X1 + box.X2) / 2 / w
		cy := (box.Y1 + box.Y2) / 2 / h
		bw := box.Width() / w
		bh := box.Height() / h
		fmt.Fprintf(&b, "%d %.6f %.6f %.6f %.6f\n", box.ClassID, cx, cy, bw, bh)
	}
	return b.String(), nil
}
