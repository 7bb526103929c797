package training

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/your-org/sentinel/internal/config"
	"github.com/your-org/sentinel/internal/faults"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/vision"
)

func testTrainingConfig() config.TrainingConfig {
	cfg := config.Default().Training
	cfg.InputSize = 8
	cfg.LatentDim = 4
	cfg.LearningRate = 0.05
	cfg.MaxEpochs = 150
	cfg.Patience = 10
	cfg.MinNormalSnapshots = 5
	return cfg
}

// normalFrame puts its energy in the first quarter of the vector,
// anomalousFrame in the last quarter. A model fit on normal frames cannot
// reconstruct the anomalous subspace.
func normalFrame(rng *rand.Rand, dim int) []float32 {
	x := make([]float32, dim)
	a := rng.Float32()
	b := rng.Float32()
	for i := 0; i < dim/4; i++ {
		x[i] = a + b*float32(i%2)
	}
	return x
}

func anomalousFrame(dim int) []float32 {
	x := make([]float32, dim)
	for i := 3 * dim / 4; i < dim; i++ {
		x[i] = 1.5
	}
	return x
}

func TestTrainSeparatesAnomalousFrames(t *testing.T) {
	cfg := testTrainingConfig()
	trainer := NewTrainer(cfg)
	dim := cfg.InputSize * cfg.InputSize

	rng := rand.New(rand.NewSource(11))
	frames := make([][]float32, 40)
	for i := range frames {
		frames[i] = normalFrame(rng, dim)
	}

	epochs := 0
	result, err := trainer.Train(context.Background(), frames, models.Hyperparams{}, func(epoch int, loss float64) {
		epochs = epoch
		if math.IsNaN(loss) {
			t.Fatalf("NaN loss at epoch %d", epoch)
		}
	})
	if err != nil {
		t.Fatalf("train: %v", err)
	}

	if epochs == 0 || result.Epochs == 0 {
		t.Fatal("progress callback never ran")
	}
	if result.Threshold < 0 {
		t.Fatalf("negative threshold %v", result.Threshold)
	}
	if result.Checksum != vision.Checksum(result.Artifact) {
		t.Fatal("checksum does not match artifact")
	}
	if result.Preprocessing.InputSize != cfg.InputSize {
		t.Fatalf("preprocessing input size = %d", result.Preprocessing.InputSize)
	}

	ae, err := vision.UnmarshalAutoencoder(result.Artifact)
	if err != nil {
		t.Fatal(err)
	}
	anomScore, err := ae.Score(anomalousFrame(dim))
	if err != nil {
		t.Fatal(err)
	}
	if anomScore <= result.Threshold {
		t.Fatalf("anomalous frame score %v not above threshold %v", anomScore, result.Threshold)
	}
}

// Reconstruction error must grow with the size of the deviation from the
// normal pattern: a frame with a larger unfamiliar component can never score
// lower than the same frame with a smaller one.
func TestTrainScoreGrowsWithDeviation(t *testing.T) {
	cfg := testTrainingConfig()
	trainer := NewTrainer(cfg)
	dim := cfg.InputSize * cfg.InputSize

	rng := rand.New(rand.NewSource(11))
	frames := make([][]float32, 40)
	for i := range frames {
		frames[i] = normalFrame(rng, dim)
	}

	result, err := trainer.Train(context.Background(), frames, models.Hyperparams{}, nil)
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	ae, err := vision.UnmarshalAutoencoder(result.Artifact)
	if err != nil {
		t.Fatal(err)
	}

	base := normalFrame(rand.New(rand.NewSource(42)), dim)
	anomaly := anomalousFrame(dim)
	scales := []float32{0, 0.5, 1, 1.5, 2}

	scores := make([]float64, len(scales))
	for i, scale := range scales {
		x := make([]float32, dim)
		for j := range x {
			x[j] = base[j] + scale*anomaly[j]
		}
		scores[i], err = ae.Score(x)
		if err != nil {
			t.Fatal(err)
		}
	}
	for i := 1; i < len(scores); i++ {
		if scores[i] < scores[i-1] {
			t.Fatalf("score dropped from %v (scale %v) to %v (scale %v)",
				scores[i-1], scales[i-1], scores[i], scales[i])
		}
	}
}

// The recommended threshold sits inside the observed error range: above zero,
// below the worst reconstruction error seen on the input frames.
func TestTrainThresholdWithinObservedErrors(t *testing.T) {
	cfg := testTrainingConfig()
	trainer := NewTrainer(cfg)
	dim := cfg.InputSize * cfg.InputSize

	rng := rand.New(rand.NewSource(17))
	frames := make([][]float32, 100)
	for i := range frames {
		frames[i] = normalFrame(rng, dim)
	}

	result, err := trainer.Train(context.Background(), frames, models.Hyperparams{}, nil)
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if result.Threshold <= 0 {
		t.Fatalf("threshold = %v, want > 0", result.Threshold)
	}

	ae, err := vision.UnmarshalAutoencoder(result.Artifact)
	if err != nil {
		t.Fatal(err)
	}
	maxErr := 0.0
	for _, x := range frames {
		s, err := ae.Score(x)
		if err != nil {
			t.Fatal(err)
		}
		if s > maxErr {
			maxErr = s
		}
	}
	if result.Threshold >= maxErr {
		t.Fatalf("threshold %v not below max observed error %v", result.Threshold, maxErr)
	}
}

func TestTrainInsufficientFrames(t *testing.T) {
	trainer := NewTrainer(testTrainingConfig())

	_, err := trainer.Train(context.Background(), make([][]float32, 3), models.Hyperparams{}, nil)
	if !errors.Is(err, faults.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestTrainWrongFrameDimension(t *testing.T) {
	trainer := NewTrainer(testTrainingConfig())

	frames := make([][]float32, 10)
	for i := range frames {
		frames[i] = make([]float32, 7)
	}
	_, err := trainer.Train(context.Background(), frames, models.Hyperparams{}, nil)
	if !errors.Is(err, faults.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestTrainCancelled(t *testing.T) {
	cfg := testTrainingConfig()
	trainer := NewTrainer(cfg)
	dim := cfg.InputSize * cfg.InputSize

	rng := rand.New(rand.NewSource(5))
	frames := make([][]float32, 20)
	for i := range frames {
		frames[i] = normalFrame(rng, dim)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := trainer.Train(ctx, frames, models.Hyperparams{}, nil)
	if !errors.Is(err, faults.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func TestHyperparamOverridesWin(t *testing.T) {
	cfg := testTrainingConfig()
	trainer := NewTrainer(cfg)

	hp := trainer.resolve(models.Hyperparams{InputSize: 16, MaxEpochs: 7})
	if hp.InputSize != 16 {
		t.Fatalf("input size = %d", hp.InputSize)
	}
	if hp.MaxEpochs != 7 {
		t.Fatalf("max epochs = %d", hp.MaxEpochs)
	}
	if hp.Patience != cfg.Patience {
		t.Fatalf("patience should fall back to config, got %d", hp.Patience)
	}
	if hp.ThresholdPercentile != cfg.ThresholdPercentile {
		t.Fatalf("percentile should fall back to config, got %v", hp.ThresholdPercentile)
	}
}
