package detect

import (
	"math"

	autolabel "github.com/tygwan/ALA-AutoLabelAgent-sub001"
	"github.com/tygwan/ALA-AutoLabelAgent-sub001/preprocess"
	"gonum.org/v1/gonum/floats"
)

// decodeOutputs converts the raw model outputs into detection results.
// logits has shape (numQueries, seqLen) holding per token alignment
// scores for each query box, boxes has shape (numQueries, 4) holding
// center x/y, width, height normalized to [0,1] of the model input.
// No detection below confThreshold is returned.
func decodeOutputs(logits, boxes []float32, numQueries int,
	enc *EncodedPrompt, confThreshold, nmsThreshold float32,
	maxDetections int, resizer *preprocess.Resizer,
	idGen *autolabel.IDGenerator) *autolabel.DetectionResult {

	seqLen := 0

	if numQueries > 0 {
		seqLen = len(logits) / numQueries
	}

	inputW := float32(resizer.DestWidth())
	inputH := float32(resizer.DestHeight())

	// filtered candidates in model input space, stored x,y,w,h per box
	// for the NMS pass
	filterBoxes := make([]float32, 0, numQueries*4)
	objProbs := make([]float32, 0, numQueries)
	classID := make([]int, 0, numQueries)

	scores := make([]float32, len(enc.Spans))

	for q := 0; q < numQueries; q++ {

		row := logits[q*seqLen : (q+1)*seqLen]

		// score each prompt class by its best aligned token.  sigmoid is
		// monotonic so the max is taken over raw logits first.
		for c, span := range enc.Spans {

			if span[1] <= span[0] || span[1] > seqLen {
				scores[c] = 0
				continue
			}

			f64 := make([]float64, span[1]-span[0])

			for i, v := range row[span[0]:span[1]] {
				f64[i] = float64(v)
			}

			scores[c] = sigmoid(float32(floats.Max(f64)))
		}

		best := maxIdx(scores)

		if scores[best] < confThreshold {
			continue
		}

		cx := boxes[q*4+0] * inputW
		cy := boxes[q*4+1] * inputH
		w := boxes[q*4+2] * inputW
		h := boxes[q*4+3] * inputH

		filterBoxes = append(filterBoxes, cx-w/2, cy-h/2, w, h)
		objProbs = append(objProbs, scores[best])
		classID = append(classID, best)
	}

	validCount := len(classID)

	if validCount == 0 {
		// no object detected
		return &autolabel.DetectionResult{}
	}

	indexArray := make([]int, validCount)

	for i := 0; i < validCount; i++ {
		indexArray[i] = i
	}

	quickSortIndiceInverse(objProbs, 0, validCount-1, indexArray)

	// create a unique set of ClassID (ie: eliminate any multiples found)
	classSet := make(map[int]bool)

	for _, id := range classID {
		classSet[id] = true
	}

	// for each classID in the classSet calculate the NMS
	for c := range classSet {
		nms(validCount, filterBoxes, classID, indexArray, c, nmsThreshold)
	}

	// collate surviving objects into the result
	group := &autolabel.DetectionResult{}

	for i := 0; i < validCount; i++ {

		if indexArray[i] == -1 || group.Count >= maxDetections {
			continue
		}

		n := indexArray[i]

		x1 := filterBoxes[n*4+0]
		y1 := filterBoxes[n*4+1]
		x2 := x1 + filterBoxes[n*4+2]
		y2 := y1 + filterBoxes[n*4+3]
		id := classID[n]

		det := autolabel.Detection{
			Box: autolabel.Box{
				X1: resizer.ReverseX(x1),
				Y1: resizer.ReverseY(y1),
				X2: resizer.ReverseX(x2),
				Y2: resizer.ReverseY(y2),
			},
			Label: enc.Classes[id],
			Class: id,
			Score: objProbs[i],
			ID:    idGen.GetNext(),
		}

		group.Results = append(group.Results, det)
		group.Count++
	}

	return group
}

// sigmoid maps a raw logit to [0,1]
func sigmoid(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(-float64(x))))
}

// maxIdx returns the index of the largest value in vals
func maxIdx(vals []float32) int {

	f64 := make([]float64, len(vals))

	for i, v := range vals {
		f64[i] = float64(v)
	}

	return floats.MaxIdx(f64)
}

// quickSortIndiceInverse is a quick sort algorithm that sorts the objProbs
// vector and synchronously updates the indices vector to track the reordering
// of elements
func quickSortIndiceInverse(input []float32, left int, right int, indices []int) int {

	var key float32
	var keyIndex int

	low := left
	high := right

	if left < right {
		keyIndex = indices[left]
		key = input[left]

		for low < high {
			for low < high && input[high] <= key {
				high--
			}

			input[low] = input[high]
			indices[low] = indices[high]

			for low < high && input[low] >= key {
				low++
			}

			input[high] = input[low]
			indices[high] = indices[low]
		}

		input[low] = key
		indices[low] = keyIndex

		quickSortIndiceInverse(input, left, low-1, indices)
		quickSortIndiceInverse(input, low+1, right, indices)
	}

	return low
}

// nms implements a Non-Maximum Suppression (NMS) algorithm over boxes
// of the given class
func nms(validCount int, outputLocations []float32, classIds, order []int,
	filterId int, threshold float32) {

	for i := 0; i < validCount; i++ {

		if order[i] == -1 || classIds[i] != filterId {
			continue
		}

		n := order[i]

		for j := i + 1; j < validCount; j++ {
			m := order[j]

			if m == -1 || classIds[i] != filterId {
				continue
			}

			xmin0 := outputLocations[n*4+0]
			ymin0 := outputLocations[n*4+1]
			xmax0 := xmin0 + outputLocations[n*4+2]
			ymax0 := ymin0 + outputLocations[n*4+3]

			xmin1 := outputLocations[m*4+0]
			ymin1 := outputLocations[m*4+1]
			xmax1 := xmin1 + outputLocations[m*4+2]
			ymax1 := ymin1 + outputLocations[m*4+3]

			iou := calculateOverlap(xmin0, ymin0, xmax0, ymax0, xmin1, ymin1, xmax1, ymax1)

			if iou > threshold {
				order[j] = -1
			}
		}
	}
}

// calculateOverlap works out the Intersection of Union (IoU) value of two
// boxes dimensions
func calculateOverlap(xmin0, ymin0, xmax0, ymax0, xmin1, ymin1,
	xmax1, ymax1 float32) float32 {

	w := math.Max(0.0, math.Min(float64(xmax0), float64(xmax1))-math.Max(float64(xmin0), float64(xmin1))+1.0)
	h := math.Max(0.0, math.Min(float64(ymax0), float64(ymax1))-math.Max(float64(ymin0), float64(ymin1))+1.0)
	intersection := w * h

	// Calculate the area of both rectangles with added 1.0 for inclusive pixel calculation
	area0 := (xmax0 - xmin0 + 1) * (ymax0 - ymin0 + 1)
	area1 := (xmax1 - xmin1 + 1) * (ymax1 - ymin1 + 1)

	// Calculate union
	union := area0 + area1 - float32(intersection)

	if union <= 0 {
		return 0.0
	}

	// Return Intersection of Union (IoU)
	return float32(intersection) / union
}
