package autolabel

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// Box is an axis aligned bounding box in source image pixel space with
// X1 < X2 and Y1 < Y2
type Box struct {
	X1, Y1, X2, Y2 float32
}

// Rect converts the box to an image.Rectangle for rendering
func (b Box) Rect() image.Rectangle {
	return image.Rect(int(b.X1), int(b.Y1), int(b.X2), int(b.Y2))
}

// Width returns the box width in pixels
func (b Box) Width() float32 {
	return b.X2 - b.X1
}

// Height returns the box height in pixels
func (b Box) Height() float32 {
	return b.Y2 - b.Y1
}

// Detection defines the attributes of a single object detected
type Detection struct {
	// Box are the bounding box dimensions of the object location
	Box Box
	// Label is the prompt class name the object matched
	Label string
	// Class is the index of the matched class within the prompt
	Class int
	// Score is the confidence of the detection in [0,1]
	Score float32
	// ID is a unique ID assigned to the detection result
	ID int64
}

// DetectionResult is the ordered set of objects found by one detect
// call.  It is immutable once returned.
type DetectionResult struct {
	// Results are the detections in model output order after score
	// sorting and NMS
	Results []Detection
	// Count is the number of detections
	Count int
}

// Point is a segmentation point prompt.  Label 1 marks foreground to
// include, label 0 marks background to exclude.
type Point struct {
	X, Y  float32
	Label int
}

// SegPrompt is the geometric prompt passed to the segmentation engine.
// Points and Box may be combined, at least one must be supplied.
type SegPrompt struct {
	Points []Point
	Box    *Box
	// MultimaskOutput requests all candidate masks instead of only the
	// highest scoring one
	MultimaskOutput bool
}

// Empty reports whether the prompt carries no geometry
func (p SegPrompt) Empty() bool {
	return len(p.Points) == 0 && p.Box == nil
}

// Mask is a binary segmentation mask over the full source image stored
// as a flat row-major grid of 0 or 255 values
type Mask struct {
	Data   []uint8
	Width  int
	Height int
}

// NewMask returns an all-background mask of the given dimensions
func NewMask(width, height int) Mask {
	return Mask{
		Data:   make([]uint8, width*height),
		Width:  width,
		Height: height,
	}
}

// At reports whether the pixel at x,y is foreground
func (m Mask) At(x, y int) bool {
	return m.Data[y*m.Width+x] != 0
}

// Set marks the pixel at x,y as foreground or background
func (m *Mask) Set(x, y int, foreground bool) {
	if foreground {
		m.Data[y*m.Width+x] = 255
	} else {
		m.Data[y*m.Width+x] = 0
	}
}

// Area returns the number of foreground pixels
func (m Mask) Area() int {

	area := 0

	for _, v := range m.Data {
		if v != 0 {
			area++
		}
	}

	return area
}

// ToMat copies the mask into a single channel gocv Mat.  The caller owns
// the returned Mat and must Close it.
func (m Mask) ToMat() (gocv.Mat, error) {

	mat, err := gocv.NewMatFromBytes(m.Height, m.Width, gocv.MatTypeCV8UC1, m.Data)

	if err != nil {
		return gocv.Mat{}, fmt.Errorf("error creating mat from mask: %w", err)
	}

	return mat, nil
}

// MaskFromMat copies a single channel Mat into a Mask.  Any non zero
// pixel becomes foreground.
func MaskFromMat(mat gocv.Mat) Mask {

	m := Mask{
		Data:   make([]uint8, mat.Rows()*mat.Cols()),
		Width:  mat.Cols(),
		Height: mat.Rows(),
	}

	copy(m.Data, mat.ToBytes())

	for i, v := range m.Data {
		if v != 0 {
			m.Data[i] = 255
		}
	}

	return m
}

// SegmentationResult is the ordered set of masks produced for one
// prompt, paired 1:1 with confidence scores.  With multimask output off
// it holds exactly the best scoring mask.
type SegmentationResult struct {
	Masks  []Mask
	Scores []float32
}

// Best returns the highest scoring mask and its score.  An empty
// result yields a zero mask.
func (r *SegmentationResult) Best() (Mask, float32) {

	if len(r.Masks) == 0 {
		return Mask{}, 0
	}

	bestIdx := 0
	bestScore := float32(-1)

	for i, s := range r.Scores {
		if s > bestScore {
			bestScore = s
			bestIdx = i
		}
	}

	return r.Masks[bestIdx], bestScore
}

// Metadata records the parameters an annotation was produced with
type Metadata struct {
	// Prompt is the comma separated class list used for detection
	Prompt string
	// ConfidenceThreshold is the detection score cut off used
	ConfidenceThreshold float32
	// NumDetections is the number of annotated objects.  Exporters rely
	// on this field name.
	NumDetections int
}

// AnnotationResult is the orchestrator's combined output for one image.
// Masks holds one mask per detection in the same order as
// Detections.Results.
type AnnotationResult struct {
	Detections *DetectionResult
	Masks      []Mask
	Metadata   Metadata
}

// IDGenerator hands out incrementing IDs for detection results
type IDGenerator struct {
	id int64
	sync.Mutex
}

// NewIDGenerator returns a generator starting at 1
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{}
}

// GetNext returns the next incremental number
func (g *IDGenerator) GetNext() int64 {
	g.Lock()
	defer g.Unlock()
	g.id++
	return g.id
}
