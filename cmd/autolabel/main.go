package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	autolabel "github.com/tygwan/ALA-AutoLabelAgent-sub001"
	"github.com/tygwan/ALA-AutoLabelAgent-sub001/detect"
	"github.com/tygwan/ALA-AutoLabelAgent-sub001/render"
	"github.com/tygwan/ALA-AutoLabelAgent-sub001/segment"
	"gocv.io/x/gocv"
	"golang.org/x/image/font"
)

// imageExtensions are the file types picked up when scanning an input
// directory
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".webp": true,
}

func main() {

	configFile := flag.String("c", "config.yaml", "Configuration file")
	input := flag.String("i", "", "Image file or directory to annotate")
	prompt := flag.String("p", "", "Comma separated class list, overrides the config")

	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger()

	cfg, err := LoadConfig(*configFile)

	if err != nil {
		log.Fatal().Err(err).Msg("error loading configuration")
	}

	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		log = log.Level(level)
	}

	if err := cfg.validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	if *prompt != "" {
		cfg.Annotate.Prompt = *prompt
	}

	if cfg.Annotate.Prompt == "" {
		log.Fatal().Msg("no prompt given, set annotate.prompt or pass -p")
	}

	if *input == "" {
		log.Fatal().Msg("no input given, pass -i with an image file or directory")
	}

	paths, err := collectImages(*input)

	if err != nil {
		log.Fatal().Err(err).Msg("error collecting input images")
	}

	if len(paths) == 0 {
		log.Fatal().Str("input", *input).Msg("no images found")
	}

	if err := os.MkdirAll(cfg.Output.Dir, 0755); err != nil {
		log.Fatal().Err(err).Msg("error creating output directory")
	}

	detector, segmenter, err := loadEngines(cfg, log)

	if err != nil {
		log.Fatal().Err(err).Msg("error loading models")
	}

	defer detector.Unload()
	defer segmenter.Unload()

	var face font.Face

	if cfg.Output.Previews && cfg.Output.Font != "" {
		face, err = render.LoadTTFFace(cfg.Output.Font, cfg.Output.FontSize)

		if err != nil {
			log.Fatal().Err(err).Msg("error loading preview font")
		}
	}

	o := autolabel.NewOrchestrator(detector, segmenter)

	// collect completed annotations in batch order for export
	var results []*autolabel.AnnotationResult

	o.SetNotifier(&autolabel.Notifier{
		OnProgress: func(pct int, msg string) {
			log.Debug().Int("pct", pct).Msg(msg)
		},
		OnError: func(msg string) {
			log.Error().Msg(msg)
		},
		OnComplete: func(res *autolabel.AnnotationResult) {
			results = append(results, res)
		},
	})

	runner := autolabel.NewBatchRunner(o)
	runner.ConfThreshold = cfg.Annotate.ConfidenceThreshold
	runner.UseCache = *cfg.Annotate.UseCache

	runner.OnItem = func(current, total int, message string) {
		log.Info().Int("image", current).Int("of", total).Msg(message)
	}

	summary := runner.Run(paths, cfg.Annotate.Prompt)

	// successful outcomes pair with completed results in order
	next := 0

	for _, outcome := range summary.Outcomes {

		if !outcome.Success {
			continue
		}

		res := results[next]
		next++

		if err := exportAnnotation(cfg, face, outcome.Path, res); err != nil {
			log.Error().Err(err).Str("image", outcome.Path).
				Msg("error exporting annotation")
		}
	}

	log.Info().
		Int("processed", summary.Processed).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Bool("cancelled", summary.Cancelled).
		Msg("batch finished")

	if summary.Failed > 0 {
		os.Exit(1)
	}
}

// loadEngines creates and loads both inference engines per the
// configuration
func loadEngines(cfg *Config, log zerolog.Logger) (*detect.Engine,
	*segment.Engine, error) {

	detDevice, err := autolabel.ParseDevice(cfg.Detect.Device)

	if err != nil {
		return nil, nil, err
	}

	segDevice, err := autolabel.ParseDevice(cfg.Segment.Device)

	if err != nil {
		return nil, nil, err
	}

	detCfg := detect.DefaultConfig()
	detCfg.OnnxRuntimeLibPath = cfg.Onnx.LibraryPath
	detCfg.VocabPath = cfg.Detect.Vocab

	detector := detect.NewEngine(detCfg)
	detector.SetNotifier(&autolabel.Notifier{
		OnProgress: func(pct int, msg string) {
			log.Debug().Int("pct", pct).Msg(msg)
		},
	})

	if err := detector.Load(cfg.Detect.Model, detDevice); err != nil {
		return nil, nil, err
	}

	segCfg := segment.DefaultConfig()
	segCfg.OnnxRuntimeLibPath = cfg.Onnx.LibraryPath

	segmenter := segment.NewEngine(segCfg)

	if err := segmenter.Load(cfg.Segment.Model, segDevice); err != nil {
		detector.Unload()
		return nil, nil, err
	}

	log.Info().
		Str("detector", detector.Device().String()).
		Str("segmenter", segmenter.Device().String()).
		Msg("models loaded")

	return detector, segmenter, nil
}

// collectImages resolves the input to an ordered list of image files
func collectImages(input string) ([]string, error) {

	info, err := os.Stat(input)

	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		return []string{input}, nil
	}

	entries, err := os.ReadDir(input)

	if err != nil {
		return nil, err
	}

	var paths []string

	for _, entry := range entries {

		if entry.IsDir() {
			continue
		}

		if imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			paths = append(paths, filepath.Join(input, entry.Name()))
		}
	}

	return paths, nil
}

// annotationFile is the JSON document written per annotated image
type annotationFile struct {
	Image      string                `json:"image"`
	Prompt     string                `json:"prompt"`
	Detections []annotationDetection `json:"detections"`
}

type annotationDetection struct {
	Label   string     `json:"label"`
	Class   int        `json:"class"`
	Score   float32    `json:"score"`
	Box     [4]float32 `json:"box"`
	Polygon [][2]int   `json:"polygon,omitempty"`
}

// exportAnnotation writes the annotation JSON for one image and
// optionally a rendered preview
func exportAnnotation(cfg *Config, face font.Face, imagePath string,
	res *autolabel.AnnotationResult) error {

	doc := annotationFile{
		Image:  imagePath,
		Prompt: res.Metadata.Prompt,
	}

	for i, det := range res.Detections.Results {

		entry := annotationDetection{
			Label: det.Label,
			Class: det.Class,
			Score: det.Score,
			Box:   [4]float32{det.Box.X1, det.Box.Y1, det.Box.X2, det.Box.Y2},
		}

		if i < len(res.Masks) {
			entry.Polygon = largestPolygon(res.Masks[i],
				cfg.Output.PolygonEpsilon, cfg.Output.PolygonExpand)
		}

		doc.Detections = append(doc.Detections, entry)
	}

	data, err := json.MarshalIndent(doc, "", "  ")

	if err != nil {
		return fmt.Errorf("error encoding annotation: %w", err)
	}

	name := strings.TrimSuffix(filepath.Base(imagePath),
		filepath.Ext(imagePath))
	outFile := filepath.Join(cfg.Output.Dir, name+".json")

	if err := os.WriteFile(outFile, data, 0644); err != nil {
		return fmt.Errorf("error writing annotation: %w", err)
	}

	if cfg.Output.Previews {
		return writePreview(cfg, face, imagePath, name, res)
	}

	return nil
}

// largestPolygon simplifies a mask to its largest boundary polygon and
// offsets the boundary outwards by the expand ratio
func largestPolygon(mask autolabel.Mask, epsilon float64,
	expand float32) [][2]int {

	polygons, err := segment.MaskToPolygon(mask, epsilon)

	if err != nil || len(polygons) == 0 {
		return nil
	}

	largest := polygons[0]

	for _, p := range polygons[1:] {
		if len(p) > len(largest) {
			largest = p
		}
	}

	if expand > 0 {
		largest = segment.ExpandPolygon(largest, expand)
	}

	out := make([][2]int, 0, len(largest))

	for _, pt := range largest {
		out = append(out, [2]int{pt.X, pt.Y})
	}

	return out
}

// writePreview renders the annotation over the source image.  Labels
// use the configured TTF face when one was loaded.
func writePreview(cfg *Config, face font.Face, imagePath, name string,
	res *autolabel.AnnotationResult) error {

	img := gocv.IMRead(imagePath, gocv.IMReadColor)

	if img.Empty() {
		return fmt.Errorf("error reading image from %s", imagePath)
	}

	defer img.Close()

	render.MaskOverlay(&img, res.Masks, res.Detections.Results,
		cfg.Output.MaskAlpha)

	if face != nil {
		if err := render.DetectionBoxesTTF(&img, res.Detections.Results,
			face, render.White, 2); err != nil {
			return err
		}
	} else {
		render.DetectionBoxes(&img, res.Detections.Results,
			render.DefaultFont(), 2)
	}

	outFile := filepath.Join(cfg.Output.Dir, name+"_preview.jpg")

	if ok := gocv.IMWrite(outFile, img); !ok {
		return fmt.Errorf("error writing preview to %s", outFile)
	}

	return nil
}
