package tfrecord

import (
	"github.com/okian/gazeset/internal/domain/model"
)

// Feature keys of a gaze record.
const (
	KeyEyeLeft  = "eye_left"
	KeyEyeRight = "eye_right"
	KeyLeftL1   = "l_l1"
	KeyLeftL2   = "l_l2"
	KeyRightL1  = "r_l1"
	KeyRightL2  = "r_l2"
	KeyLabel    = "label"
)

// GazeExample builds the record for ex from the encoded crop bytes.
func GazeExample(ex model.Example, eyeLeft, eyeRight []byte) Example {
	return Example{
		KeyEyeLeft:  BytesFeature(eyeLeft),
		KeyEyeRight: BytesFeature(eyeRight),
		KeyLeftL1:   pointFeature(ex.LeftLandmarks[0]),
		KeyLeftL2:   pointFeature(ex.LeftLandmarks[1]),
		KeyRightL1:  pointFeature(ex.RightLandmarks[0]),
		KeyRightL2:  pointFeature(ex.RightLandmarks[1]),
		KeyLabel:    FloatFeature(float32(ex.Label[0]), float32(ex.Label[1])),
	}
}

func pointFeature(p model.Point) Feature {
	return Int64Feature(int64(p.X), int64(p.Y))
}
