package vision

import (
	"context"
	"fmt"
	"image"
	"math"
	"sort"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/sentinel/internal/models"
)

// cocoClasses is the standard 80-class label set the detector model was
// trained on.
var cocoClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train",
	"truck", "boat", "traffic light", "fire hydrant", "stop sign",
	"parking meter", "bench", "bird", "cat", "dog", "horse", "sheep", "cow",
	"elephant", "bear", "zebra", "giraffe", "backpack", "umbrella", "handbag",
	"tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball", "kite",
	"baseball bat", "baseball glove", "skateboard", "surfboard",
	"tennis racket", "bottle", "wine glass", "cup", "fork", "knife", "spoon",
	"bowl", "banana", "apple", "sandwich", "orange", "broccoli", "carrot",
	"hot dog", "pizza", "donut", "cake", "chair", "couch", "potted plant",
	"bed", "dining table", "toilet", "tv", "laptop", "mouse", "remote",
	"keyboard", "cell phone", "microwave", "oven", "toaster", "sink",
	"refrigerator", "book", "clock", "vase", "scissors", "teddy bear",
	"hair drier", "toothbrush",
}

const (
	detInputSize = 640
	numClasses   = 80
	numBoxes     = 8400
)

// ONNXDetector runs multi-class object detection using ONNX Runtime.
// Output layout is [1, 4+numClasses, numBoxes]: cx, cy, w, h followed by
// per-class scores for each candidate box.
type ONNXDetector struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	threshold    float32
}

// NewONNXDetector loads the detection model.
// opts may be nil (ORT defaults) or a pre-configured *ort.SessionOptions.
func NewONNXDetector(modelPath string, threshold float32, opts *ort.SessionOptions) (*ONNXDetector, error) {
	inputShape := ort.NewShape(1, 3, detInputSize, detInputSize)
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputShape := ort.NewShape(1, 4+numClasses, numBoxes)
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &ONNXDetector{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		threshold:    threshold,
	}, nil
}

// Detect runs object detection on a decoded image. Boxes come back with
// coordinates normalized to [0,1] relative to the original image.
func (d *ONNXDetector) Detect(ctx context.Context, img image.Image) ([]models.DetectedObject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// /255 normalization, no mean shift
	imgData := imageToFloat32CHW(img, detInputSize, detInputSize,
		[3]float32{0, 0, 0}, [3]float32{255, 255, 255})

	inputSlice := d.inputTensor.GetData()
	copy(inputSlice, imgData)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	objects := d.parseDetections()
	objects = nmsObjects(objects, 0.45)

	return objects, nil
}

// parseDetections decodes the [1, 4+C, N] output tensor. Values at row r,
// box i live at r*numBoxes+i. Each box keeps only its best class. The
// resize to model input is a plain stretch, so model-space coordinates map
// directly to normalized original-image coordinates.
func (d *ONNXDetector) parseDetections() []models.DetectedObject {
	out := d.outputTensor.GetData()

	var objects []models.DetectedObject

	for i := 0; i < numBoxes; i++ {
		bestClass := -1
		bestScore := float32(0)
		for c := 0; c < numClasses; c++ {
			score := out[(4+c)*numBoxes+i]
			if score > bestScore {
				bestScore = score
				bestClass = c
			}
		}
		if bestScore < d.threshold || bestClass < 0 {
			continue
		}

		cx := out[0*numBoxes+i]
		cy := out[1*numBoxes+i]
		w := out[2*numBoxes+i]
		h := out[3*numBoxes+i]

		// cxcywh in model-input pixels -> xyxy normalized to [0,1]
		x1 := clampF((cx-w/2)/detInputSize, 0, 1)
		y1 := clampF((cy-h/2)/detInputSize, 0, 1)
		x2 := clampF((cx+w/2)/detInputSize, 0, 1)
		y2 := clampF((cy+h/2)/detInputSize, 0, 1)

		objects = append(objects, models.DetectedObject{
			Class:      cocoClasses[bestClass],
			Confidence: bestScore,
			BBox:       [4]float32{x1, y1, x2, y2},
		})
	}

	return objects
}

func (d *ONNXDetector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	if d.outputTensor != nil {
		d.outputTensor.Destroy()
	}
}

// nmsObjects performs per-class Non-Maximum Suppression.
func nmsObjects(objects []models.DetectedObject, iouThreshold float32) []models.DetectedObject {
	if len(objects) == 0 {
		return objects
	}

	sort.Slice(objects, func(i, j int) bool {
		return objects[i].Confidence > objects[j].Confidence
	})

	keep := make([]bool, len(objects))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(objects); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(objects); j++ {
			if !keep[j] {
				continue
			}
			if objects[i].Class != objects[j].Class {
				continue
			}
			if iou(objects[i].BBox, objects[j].BBox) > iouThreshold {
				keep[j] = false
			}
		}
	}

	var result []models.DetectedObject
	for i, obj := range objects {
		if keep[i] {
			result = append(result, obj)
		}
	}
	return result
}

func iou(a, b [4]float32) float32 {
	x1 := float32(math.Max(float64(a[0]), float64(b[0])))
	y1 := float32(math.Max(float64(a[1]), float64(b[1])))
	x2 := float32(math.Min(float64(a[2]), float64(b[2])))
	y2 := float32(math.Min(float64(a[3]), float64(b[3])))

	intersection := float32(math.Max(0, float64(x2-x1))) * float32(math.Max(0, float64(y2-y1)))

	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - intersection

	if union <= 0 {
		return 0
	}
	return intersection / union
}
