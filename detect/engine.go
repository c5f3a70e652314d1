package detect

import (
	"fmt"
	"image/color"
	"path/filepath"

	autolabel "github.com/tygwan/ALA-AutoLabelAgent-sub001"
	"github.com/tygwan/ALA-AutoLabelAgent-sub001/preprocess"
	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"
)

// model input and output tensor names
var (
	inputNames  = []string{"image", "input_ids", "attention_mask", "token_type_ids"}
	outputNames = []string{"logits", "boxes"}
)

// normalization constants the vision backbone was trained with
const (
	meanR = 0.485
	meanG = 0.456
	meanB = 0.406

	stdR = 0.229
	stdG = 0.224
	stdB = 0.225
)

// letterboxGray is the padding color used during letterbox resize
var letterboxGray = color.RGBA{R: 114, G: 114, B: 114, A: 255}

// Engine is the text prompted object detection engine.  It implements
// the autolabel.Detector contract on top of an ONNX Runtime session.
type Engine struct {
	*autolabel.ModelHandle

	cfg       Config
	session   *ort.DynamicAdvancedSession
	tokenizer *Tokenizer
	notifier  *autolabel.Notifier
	idGen     *autolabel.IDGenerator
}

// NewEngine returns an unloaded detection engine
func NewEngine(cfg Config) *Engine {

	if cfg.InputSize <= 0 {
		cfg.InputSize = DefaultConfig().InputSize
	}

	if cfg.MaxTextTokens <= 0 {
		cfg.MaxTextTokens = DefaultConfig().MaxTextTokens
	}

	if cfg.NMSThreshold <= 0 {
		cfg.NMSThreshold = NMS_THRESH
	}

	if cfg.MaxDetections <= 0 {
		cfg.MaxDetections = MAX_DETECTIONS
	}

	return &Engine{
		ModelHandle: autolabel.NewModelHandle(),
		cfg:         cfg,
		idGen:       autolabel.NewIDGenerator(),
	}
}

// SetNotifier attaches the observer callbacks for load and predict
// notifications
func (e *Engine) SetNotifier(n *autolabel.Notifier) {
	e.notifier = n
}

// Load acquires the detection model from path and binds it to the
// requested device.  An unavailable accelerator degrades to CPU with a
// progress warning.  Load may be called again after a failure.
func (e *Engine) Load(path string, device autolabel.Device) error {

	e.SetState(autolabel.StateLoading)
	e.notifier.Progress(0, "loading detection model")

	err := e.load(path, device)

	if err != nil {
		e.SetState(autolabel.StateFailed)
		e.notifier.Error(err.Error())
		return err
	}

	e.SetState(autolabel.StateLoaded)
	e.notifier.Progress(100, fmt.Sprintf("detection model loaded on %s", e.Device()))

	return nil
}

// load performs the model load steps
func (e *Engine) load(path string, device autolabel.Device) error {

	if err := autolabel.InitRuntime(e.cfg.OnnxRuntimeLibPath); err != nil {
		return &autolabel.LoadError{Path: path, Err: err}
	}

	vocabPath := e.cfg.VocabPath

	if vocabPath == "" {
		vocabPath = filepath.Join(filepath.Dir(path), "vocab.txt")
	}

	tokenizer, err := NewTokenizer(vocabPath)

	if err != nil {
		return &autolabel.LoadError{Path: vocabPath, Err: err}
	}

	options, bound, err := autolabel.NewSessionOptions(device,
		e.cfg.NumThreads, e.notifier)

	if err != nil {
		return &autolabel.LoadError{Path: path, Err: err}
	}

	defer options.Destroy()

	e.notifier.Progress(50, "binding detection model")

	session, err := ort.NewDynamicAdvancedSession(path, inputNames,
		outputNames, options)

	if err != nil {
		return &autolabel.LoadError{Path: path,
			Err: fmt.Errorf("error creating session: %w", err)}
	}

	e.session = session
	e.tokenizer = tokenizer
	e.Attach(session)
	e.SetDevice(bound)

	return nil
}

// Unload releases the model and returns the engine to the unloaded
// state
func (e *Engine) Unload() error {
	e.session = nil
	e.tokenizer = nil
	return e.Release()
}

// Detect runs object detection over a 3 channel BGR image.  The text
// prompt is a free text comma separated class list, confThreshold
// filters detections below the given confidence.
func (e *Engine) Detect(img gocv.Mat, textPrompt string,
	confThreshold float32) (*autolabel.DetectionResult, error) {

	if !e.IsLoaded() {
		return nil, autolabel.ErrModelNotLoaded
	}

	if img.Empty() || img.Channels() != 3 {
		return nil, autolabel.ErrInvalidImage
	}

	classes := autolabel.ParsePrompt(textPrompt)

	enc, err := e.tokenizer.EncodePrompt(classes)

	if err != nil {
		e.notifier.Error(err.Error())
		return nil, err
	}

	if len(enc.IDs) > e.cfg.MaxTextTokens {
		err = fmt.Errorf("prompt encodes to %d tokens, maximum is %d",
			len(enc.IDs), e.cfg.MaxTextTokens)
		e.notifier.Error(err.Error())
		return nil, err
	}

	e.notifier.Progress(10, "preparing image")

	resizer := preprocess.NewResizer(img.Cols(), img.Rows(),
		e.cfg.InputSize, e.cfg.InputSize)
	defer resizer.Close()

	tensorData, err := e.prepareImage(img, resizer)

	if err != nil {
		e.notifier.Error(err.Error())
		return nil, err
	}

	e.notifier.Progress(30, "running detection model")

	logits, boxes, numQueries, err := e.run(tensorData, enc.IDs)

	if err != nil {
		err = fmt.Errorf("detection inference failed: %w", err)
		e.notifier.Error(err.Error())
		return nil, err
	}

	e.notifier.Progress(90, "decoding detections")

	result := decodeOutputs(logits, boxes, numQueries, enc, confThreshold,
		e.cfg.NMSThreshold, e.cfg.MaxDetections, resizer, e.idGen)

	e.notifier.Progress(100,
		fmt.Sprintf("detected %d objects", result.Count))

	return result, nil
}

// prepareImage letterboxes the BGR source image to the input tensor
// dimensions and normalizes it to CHW float32 data
func (e *Engine) prepareImage(img gocv.Mat,
	resizer *preprocess.Resizer) ([]float32, error) {

	rgb := gocv.NewMat()
	defer rgb.Close()

	gocv.CvtColor(img, &rgb, gocv.ColorBGRToRGB)

	boxed := gocv.NewMat()
	defer boxed.Close()

	resizer.LetterBoxResize(rgb, &boxed, letterboxGray)

	pixels, err := boxed.DataPtrUint8()

	if err != nil {
		return nil, fmt.Errorf("error getting image data pointer: %w", err)
	}

	size := e.cfg.InputSize
	area := size * size
	data := make([]float32, 3*area)

	for i := 0; i < area; i++ {
		data[i] = (float32(pixels[i*3+0])/255.0 - meanR) / stdR
		data[area+i] = (float32(pixels[i*3+1])/255.0 - meanG) / stdG
		data[2*area+i] = (float32(pixels[i*3+2])/255.0 - meanB) / stdB
	}

	return data, nil
}

// run executes the detection session and returns the flattened logits
// and boxes outputs along with the query count
func (e *Engine) run(imageData []float32, tokenIDs []int64) ([]float32,
	[]float32, int, error) {

	size := int64(e.cfg.InputSize)
	seqLen := int64(len(tokenIDs))

	imgTensor, err := ort.NewTensor(ort.NewShape(1, 3, size, size), imageData)

	if err != nil {
		return nil, nil, 0, fmt.Errorf("error creating image tensor: %w", err)
	}

	defer imgTensor.Destroy()

	idsTensor, err := ort.NewTensor(ort.NewShape(1, seqLen), tokenIDs)

	if err != nil {
		return nil, nil, 0, fmt.Errorf("error creating input_ids tensor: %w", err)
	}

	defer idsTensor.Destroy()

	attnData := make([]int64, seqLen)

	for i := range attnData {
		attnData[i] = 1
	}

	attnTensor, err := ort.NewTensor(ort.NewShape(1, seqLen), attnData)

	if err != nil {
		return nil, nil, 0, fmt.Errorf("error creating attention_mask tensor: %w", err)
	}

	defer attnTensor.Destroy()

	typeTensor, err := ort.NewTensor(ort.NewShape(1, seqLen),
		make([]int64, seqLen))

	if err != nil {
		return nil, nil, 0, fmt.Errorf("error creating token_type_ids tensor: %w", err)
	}

	defer typeTensor.Destroy()

	inputs := []ort.Value{imgTensor, idsTensor, attnTensor, typeTensor}
	outputs := make([]ort.Value, 2)

	if err := e.session.Run(inputs, outputs); err != nil {
		return nil, nil, 0, err
	}

	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	logitsTensor, ok := outputs[0].(*ort.Tensor[float32])

	if !ok {
		return nil, nil, 0, fmt.Errorf("unexpected logits tensor type")
	}

	boxesTensor, ok := outputs[1].(*ort.Tensor[float32])

	if !ok {
		return nil, nil, 0, fmt.Errorf("unexpected boxes tensor type")
	}

	shape := logitsTensor.GetShape()

	if len(shape) < 2 {
		return nil, nil, 0, fmt.Errorf("unexpected logits shape %v", shape)
	}

	numQueries := int(shape[1])

	// copy out of the ORT owned buffers before they are destroyed
	logits := append([]float32(nil), logitsTensor.GetData()...)
	boxes := append([]float32(nil), boxesTensor.GetData()...)

	return logits, boxes, numQueries, nil
}
