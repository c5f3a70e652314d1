package segment

import (
	"fmt"
	"image"
	"path/filepath"
	"strings"

	autolabel "github.com/tygwan/ALA-AutoLabelAgent-sub001"
	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/floats"
)

// model input and output tensor names
var (
	encoderInputs  = []string{"pixel_values"}
	encoderOutputs = []string{"image_embeddings.0", "image_embeddings.1", "image_embeddings.2"}

	decoderInputs = []string{
		"input_points", "input_labels", "input_boxes",
		"image_embeddings.0", "image_embeddings.1", "image_embeddings.2",
	}
	decoderOutputs = []string{"iou_scores", "pred_masks", "object_score_logits"}
)

// normalization constants the image encoder was trained with
const (
	meanR = 0.485
	meanG = 0.456
	meanB = 0.406

	stdR = 0.229
	stdG = 0.224
	stdB = 0.225
)

// imageContext caches the encoder output for one image so repeated
// prompts against the same content skip the expensive encoding pass
type imageContext struct {
	hash       string
	embeddings []ort.Value

	origW, origH int
	scale        float32
	newW, newH   int
}

// destroy releases the embedding tensors
func (c *imageContext) destroy() {

	for _, v := range c.embeddings {
		if v != nil {
			v.Destroy()
		}
	}

	c.embeddings = nil
}

// Engine is the promptable segmentation engine.  It implements the
// autolabel.Segmenter contract on top of an encoder/decoder pair of
// ONNX Runtime sessions.
type Engine struct {
	*autolabel.ModelHandle

	cfg     Config
	encoder *ort.DynamicAdvancedSession
	decoder *ort.DynamicAdvancedSession

	// ctx caches the last encoded image.  Owned by the engine, released
	// on Unload or when a new image is encoded.
	ctx *imageContext

	notifier *autolabel.Notifier
}

// NewEngine returns an unloaded segmentation engine
func NewEngine(cfg Config) *Engine {

	def := DefaultConfig()

	if cfg.EncoderFile == "" {
		cfg.EncoderFile = def.EncoderFile
	}

	if cfg.DecoderFile == "" {
		cfg.DecoderFile = def.DecoderFile
	}

	return &Engine{
		ModelHandle: autolabel.NewModelHandle(),
		cfg:         cfg,
	}
}

// SetNotifier attaches the observer callbacks for load and predict
// notifications
func (e *Engine) SetNotifier(n *autolabel.Notifier) {
	e.notifier = n
}

// Load acquires the encoder and decoder models and binds them to the
// requested device.  The path may be the weights directory or the
// encoder model file, the decoder is resolved from the same directory.
// An unavailable accelerator degrades to CPU with a progress warning.
func (e *Engine) Load(path string, device autolabel.Device) error {

	e.SetState(autolabel.StateLoading)
	e.notifier.Progress(0, "loading segmentation model")

	err := e.load(path, device)

	if err != nil {
		e.SetState(autolabel.StateFailed)
		e.notifier.Error(err.Error())
		return err
	}

	e.SetState(autolabel.StateLoaded)
	e.notifier.Progress(100, fmt.Sprintf("segmentation model loaded on %s", e.Device()))

	return nil
}

// load performs the model load steps
func (e *Engine) load(path string, device autolabel.Device) error {

	if err := autolabel.InitRuntime(e.cfg.OnnxRuntimeLibPath); err != nil {
		return &autolabel.LoadError{Path: path, Err: err}
	}

	encoderPath := filepath.Join(path, e.cfg.EncoderFile)
	decoderPath := filepath.Join(path, e.cfg.DecoderFile)

	if strings.HasSuffix(path, ".onnx") {
		encoderPath = path
		decoderPath = filepath.Join(filepath.Dir(path), e.cfg.DecoderFile)
	}

	options, bound, err := autolabel.NewSessionOptions(device,
		e.cfg.NumThreads, e.notifier)

	if err != nil {
		return &autolabel.LoadError{Path: path, Err: err}
	}

	defer options.Destroy()

	e.notifier.Progress(30, "binding image encoder")

	encoder, err := ort.NewDynamicAdvancedSession(encoderPath,
		encoderInputs, encoderOutputs, options)

	if err != nil {
		return &autolabel.LoadError{Path: encoderPath,
			Err: fmt.Errorf("error creating encoder session: %w", err)}
	}

	e.notifier.Progress(60, "binding mask decoder")

	decoder, err := ort.NewDynamicAdvancedSession(decoderPath,
		decoderInputs, decoderOutputs, options)

	if err != nil {
		encoder.Destroy()
		return &autolabel.LoadError{Path: decoderPath,
			Err: fmt.Errorf("error creating decoder session: %w", err)}
	}

	e.encoder = encoder
	e.decoder = decoder
	e.Attach(encoder)
	e.Attach(decoder)
	e.SetDevice(bound)

	return nil
}

// Unload releases both models, the cached image embeddings, and returns
// the engine to the unloaded state
func (e *Engine) Unload() error {

	if e.ctx != nil {
		e.ctx.destroy()
		e.ctx = nil
	}

	e.encoder = nil
	e.decoder = nil

	return e.Release()
}

// Predict segments the region described by the prompt.  Points and a
// box may be combined, at least one is required.  With multimask output
// off (the default) exactly one mask is returned, the highest scoring
// of the model's candidates.  Masks match the source image dimensions.
func (e *Engine) Predict(img gocv.Mat,
	prompt autolabel.SegPrompt) (*autolabel.SegmentationResult, error) {

	if !e.IsLoaded() {
		return nil, autolabel.ErrModelNotLoaded
	}

	if img.Empty() || img.Channels() != 3 {
		return nil, autolabel.ErrInvalidImage
	}

	if prompt.Empty() {
		return nil, autolabel.ErrInvalidPrompt
	}

	if err := e.encodeImage(img); err != nil {
		e.notifier.Error(err.Error())
		return nil, err
	}

	result, err := e.decode(prompt)

	if err != nil {
		e.notifier.Error(err.Error())
		return nil, err
	}

	return result, nil
}

// PredictBatch applies the same prompt to every image in order
func (e *Engine) PredictBatch(imgs []gocv.Mat,
	prompt autolabel.SegPrompt) ([]*autolabel.SegmentationResult, error) {

	results := make([]*autolabel.SegmentationResult, 0, len(imgs))

	for i, img := range imgs {

		res, err := e.Predict(img, prompt)

		if err != nil {
			return nil, fmt.Errorf("error segmenting image %d of %d: %w",
				i+1, len(imgs), err)
		}

		results = append(results, res)
	}

	return results, nil
}

// RefineMask re-predicts a mask with accumulated point corrections.
// Positive points mark regions the mask should include, negative points
// regions it should exclude.  The initial mask's bounding box anchors
// the prompt so refinement stays on the same object.
func (e *Engine) RefineMask(img gocv.Mat, initial autolabel.Mask,
	positive, negative []autolabel.Point) (*autolabel.SegmentationResult, error) {

	prompt := autolabel.SegPrompt{}

	if box, ok := maskBounds(initial); ok {
		prompt.Box = &box
	}

	for _, p := range positive {
		prompt.Points = append(prompt.Points,
			autolabel.Point{X: p.X, Y: p.Y, Label: labelForeground})
	}

	for _, p := range negative {
		prompt.Points = append(prompt.Points,
			autolabel.Point{X: p.X, Y: p.Y, Label: labelBackground})
	}

	return e.Predict(img, prompt)
}

// encodeImage runs the image encoder, reusing the cached embeddings
// when the image content is unchanged from the previous call
func (e *Engine) encodeImage(img gocv.Mat) error {

	imgBytes := img.ToBytes()
	hash := autolabel.HashBytes(imgBytes)

	if e.ctx != nil && e.ctx.hash == hash {
		return nil
	}

	if e.ctx != nil {
		e.ctx.destroy()
		e.ctx = nil
	}

	origW := img.Cols()
	origH := img.Rows()

	longSide := origW

	if origH > longSide {
		longSide = origH
	}

	scale := float32(inputSize) / float32(longSide)
	newW := int(float32(origW) * scale)
	newH := int(float32(origH) * scale)

	tensorData, err := prepareImage(img, newW, newH)

	if err != nil {
		return err
	}

	inputTensor, err := ort.NewTensor(
		ort.NewShape(1, 3, int64(inputSize), int64(inputSize)), tensorData)

	if err != nil {
		return fmt.Errorf("error creating encoder input tensor: %w", err)
	}

	defer inputTensor.Destroy()

	outputs := make([]ort.Value, 3)

	if err := e.encoder.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return fmt.Errorf("encoder inference failed: %w", err)
	}

	e.ctx = &imageContext{
		hash:       hash,
		embeddings: outputs,
		origW:      origW,
		origH:      origH,
		scale:      scale,
		newW:       newW,
		newH:       newH,
	}

	return nil
}

// prepareImage resizes the BGR source to newW x newH, normalizes it,
// and pads it into a CHW float32 tensor of the encoder input dimensions
func prepareImage(img gocv.Mat, newW, newH int) ([]float32, error) {

	rgb := gocv.NewMat()
	defer rgb.Close()

	gocv.CvtColor(img, &rgb, gocv.ColorBGRToRGB)

	resized := gocv.NewMat()
	defer resized.Close()

	gocv.Resize(rgb, &resized, image.Pt(newW, newH), 0, 0, gocv.InterpolationArea)

	pixels, err := resized.DataPtrUint8()

	if err != nil {
		return nil, fmt.Errorf("error getting image data pointer: %w", err)
	}

	area := inputSize * inputSize
	data := make([]float32, 3*area)

	for y := 0; y < newH; y++ {
		for x := 0; x < newW; x++ {

			src := (y*newW + x) * 3
			dst := y*inputSize + x

			data[dst] = (float32(pixels[src+0])/255.0 - meanR) / stdR
			data[area+dst] = (float32(pixels[src+1])/255.0 - meanG) / stdG
			data[2*area+dst] = (float32(pixels[src+2])/255.0 - meanB) / stdB
		}
	}

	return data, nil
}

// decode runs the prompt decoder against the cached embeddings and
// returns the requested masks
func (e *Engine) decode(prompt autolabel.SegPrompt) (*autolabel.SegmentationResult, error) {

	coords, labels := e.promptToPoints(prompt)

	numPoints := int64(len(labels))

	pointsTensor, err := ort.NewTensor(ort.NewShape(1, 1, numPoints, 2), coords)

	if err != nil {
		return nil, fmt.Errorf("error creating points tensor: %w", err)
	}

	defer pointsTensor.Destroy()

	labelsTensor, err := ort.NewTensor(ort.NewShape(1, 1, numPoints), labels)

	if err != nil {
		return nil, fmt.Errorf("error creating labels tensor: %w", err)
	}

	defer labelsTensor.Destroy()

	// boxes are encoded as corner points, the box tensor stays empty
	var emptyBoxes []float32

	boxesTensor, err := ort.NewTensor(ort.NewShape(1, 0, 4), emptyBoxes)

	if err != nil {
		return nil, fmt.Errorf("error creating boxes tensor: %w", err)
	}

	defer boxesTensor.Destroy()

	inputs := []ort.Value{
		pointsTensor,
		labelsTensor,
		boxesTensor,
		e.ctx.embeddings[0],
		e.ctx.embeddings[1],
		e.ctx.embeddings[2],
	}

	outputs := make([]ort.Value, 3)

	if err := e.decoder.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("decoder inference failed: %w", err)
	}

	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	scores, err := tensorFloats(outputs[0])

	if err != nil {
		return nil, fmt.Errorf("error reading iou scores: %w", err)
	}

	maskLogits, err := tensorFloats(outputs[1])

	if err != nil {
		return nil, fmt.Errorf("error reading mask logits: %w", err)
	}

	pixelsPerMask := maskLogitsDim * maskLogitsDim
	numMasks := len(maskLogits) / pixelsPerMask

	if numMasks == 0 || len(scores) < numMasks {
		return nil, fmt.Errorf("decoder returned no masks")
	}

	result := &autolabel.SegmentationResult{}

	if prompt.MultimaskOutput {
		for i := 0; i < numMasks; i++ {
			logits := maskLogits[i*pixelsPerMask : (i+1)*pixelsPerMask]
			result.Masks = append(result.Masks, e.upscaleMask(logits))
			result.Scores = append(result.Scores, scores[i])
		}

		return result, nil
	}

	// keep only the argmax confidence candidate
	best := bestIdx(scores[:numMasks])
	logits := maskLogits[best*pixelsPerMask : (best+1)*pixelsPerMask]

	result.Masks = []autolabel.Mask{e.upscaleMask(logits)}
	result.Scores = []float32{scores[best]}

	return result, nil
}

// promptToPoints converts the prompt geometry into decoder point
// coordinates in encoder space with their labels.  A box becomes a top
// left and bottom right corner point pair.
func (e *Engine) promptToPoints(prompt autolabel.SegPrompt) ([]float32, []int64) {

	n := len(prompt.Points)

	if prompt.Box != nil {
		n += 2
	}

	coords := make([]float32, 0, n*2)
	labels := make([]int64, 0, n)

	for _, pt := range prompt.Points {
		coords = append(coords, pt.X*e.ctx.scale, pt.Y*e.ctx.scale)
		labels = append(labels, int64(pt.Label))
	}

	if prompt.Box != nil {
		coords = append(coords,
			prompt.Box.X1*e.ctx.scale, prompt.Box.Y1*e.ctx.scale,
			prompt.Box.X2*e.ctx.scale, prompt.Box.Y2*e.ctx.scale)
		labels = append(labels, labelBoxTopLeft, labelBoxBotRight)
	}

	return coords, labels
}

// upscaleMask thresholds the low resolution mask logits and scales the
// valid region up to the source image dimensions
func (e *Engine) upscaleMask(logits []float32) autolabel.Mask {

	validW := e.ctx.newW / 4
	validH := e.ctx.newH / 4

	return upscaleMaskLogits(logits, maskLogitsDim, validW, validH,
		e.ctx.origW, e.ctx.origH)
}

// upscaleMaskLogits maps the valid region of the low resolution logits
// grid to a full size binary mask using nearest neighbour sampling
func upscaleMaskLogits(logits []float32, logitsDim, validW, validH,
	dstW, dstH int) autolabel.Mask {

	mask := autolabel.NewMask(dstW, dstH)

	if validW <= 0 || validH <= 0 {
		return mask
	}

	xRatio := float32(validW) / float32(dstW)
	yRatio := float32(validH) / float32(dstH)

	for y := 0; y < dstH; y++ {

		srcY := int(float32(y) * yRatio)

		if srcY >= validH {
			srcY = validH - 1
		}

		for x := 0; x < dstW; x++ {

			srcX := int(float32(x) * xRatio)

			if srcX >= validW {
				srcX = validW - 1
			}

			if logits[srcY*logitsDim+srcX] > maskThreshold {
				mask.Data[y*dstW+x] = 255
			}
		}
	}

	return mask
}

// tensorFloats extracts float32 data from an output tensor, converting
// half precision outputs produced by fp16 model exports
func tensorFloats(v ort.Value) ([]float32, error) {

	switch t := v.(type) {
	case *ort.Tensor[float32]:
		return append([]float32(nil), t.GetData()...), nil
	case *ort.Tensor[uint16]:
		return autolabel.Float16ToFloat32(t.GetData()), nil
	default:
		return nil, fmt.Errorf("unsupported tensor element type")
	}
}

// bestIdx returns the index of the highest score
func bestIdx(scores []float32) int {

	f64 := make([]float64, len(scores))

	for i, s := range scores {
		f64[i] = float64(s)
	}

	return floats.MaxIdx(f64)
}

// maskBounds returns the bounding box of a mask's foreground pixels
func maskBounds(m autolabel.Mask) (autolabel.Box, bool) {

	minX, minY := m.Width, m.Height
	maxX, maxY := -1, -1

	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {

			if m.Data[y*m.Width+x] == 0 {
				continue
			}

			if x < minX {
				minX = x
			}

			if y < minY {
				minY = y
			}

			if x > maxX {
				maxX = x
			}

			if y > maxY {
				maxY = y
			}
		}
	}

	if maxX < 0 {
		return autolabel.Box{}, false
	}

	return autolabel.Box{
		X1: float32(minX),
		Y1: float32(minY),
		X2: float32(maxX + 1),
		Y2: float32(maxY + 1),
	}, true
}
