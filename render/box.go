package render

import (
	"fmt"
	"image"

	autolabel "github.com/tygwan/ALA-AutoLabelAgent-sub001"
	"gocv.io/x/gocv"
)

// DetectionBoxes renders the bounding boxes around the objects detected
func DetectionBoxes(img *gocv.Mat, detections []autolabel.Detection,
	font Font, lineThickness int) {

	// keep a record of all box labels for later rendering
	boxLabels := make([]boxLabel, 0)

	// draw detection boxes
	for _, det := range detections {

		// Get the color for this object
		useClr := ClassColor(det.Class)

		boxLeft := int(det.Box.X1)
		boxTop := int(det.Box.Y1)
		boxRight := int(det.Box.X2)
		boxBottom := int(det.Box.Y2)

		// draw rectangle around detected object
		rect := image.Rect(boxLeft, boxTop, boxRight, boxBottom)
		gocv.Rectangle(img, rect, useClr, lineThickness)

		// create text for label
		text := fmt.Sprintf("%s %.2f", det.Label, det.Score)
		textSize := gocv.GetTextSize(text, font.Face, font.Scale, font.Thickness)

		// Calculate the alignment of text label
		var centerX int

		switch font.Alignment {
		case Center:
			centerX = (boxLeft + boxRight) / 2

		case Right:
			centerX = boxRight - (textSize.X / 2) - font.RightPad + (lineThickness / 2)

		case Left:
			fallthrough
		default:
			centerX = boxLeft + (textSize.X / 2) + font.LeftPad - (lineThickness / 2)
		}

		// Adjust the label position so the text is centered horizontally
		labelPosition := image.Pt(centerX-textSize.X/2, boxTop-font.BottomPad)

		// create box for placing text on
		bRect := image.Rect(centerX-textSize.X/2-font.LeftPad,
			boxTop-textSize.Y-font.TopPad-font.BottomPad,
			centerX+textSize.X/2+font.RightPad, boxTop)

		// record label rendering details
		nextLabel := boxLabel{
			rect:    bRect,
			clr:     useClr,
			text:    text,
			textPos: labelPosition,
		}
		boxLabels = append(boxLabels, nextLabel)
	}

	// draw all precalculated box labels so they are the top most layer on the
	// image and don't get overlapped with mask outlines
	for _, box := range boxLabels {
		// draw box text gets written on
		gocv.Rectangle(img, box.rect, box.clr, -1)

		// Draw the label over box
		gocv.PutTextWithParams(img, box.text, box.textPos,
			font.Face, font.Scale, font.Color, font.Thickness,
			font.LineType, false)
	}
}
