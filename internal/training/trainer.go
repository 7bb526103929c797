package training

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/your-org/sentinel/internal/config"
	"github.com/your-org/sentinel/internal/faults"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/vision"
)

// Frame normalization constants baked into every artifact's preprocessing
// record. Edges must score with the exact parameters the model trained with.
const (
	FrameMean = 128
	FrameStd  = 64
)

// Result is the output of one successful training run.
type Result struct {
	Artifact        []byte
	Checksum        string
	Threshold       float64
	ValidationError float64
	Epochs          int
	Preprocessing   models.Preprocessing
}

// Trainer fits a reconstruction model on normal frames: SGD with a held-out
// validation split, early stop when validation error plateaus, and a
// recommended trigger threshold at a high percentile of validation errors.
type Trainer struct {
	cfg config.TrainingConfig
}

func NewTrainer(cfg config.TrainingConfig) *Trainer {
	return &Trainer{cfg: cfg}
}

// resolve fills zero hyperparams from the service config.
func (t *Trainer) resolve(hp models.Hyperparams) models.Hyperparams {
	if hp.MaxEpochs == 0 {
		hp.MaxEpochs = t.cfg.MaxEpochs
	}
	if hp.Patience == 0 {
		hp.Patience = t.cfg.Patience
	}
	if hp.LearningRate == 0 {
		hp.LearningRate = t.cfg.LearningRate
	}
	if hp.LatentDim == 0 {
		hp.LatentDim = t.cfg.LatentDim
	}
	if hp.InputSize == 0 {
		hp.InputSize = t.cfg.InputSize
	}
	if hp.ValidationSplit == 0 {
		hp.ValidationSplit = t.cfg.ValidationSplit
	}
	if hp.ThresholdPercentile == 0 {
		hp.ThresholdPercentile = t.cfg.ThresholdPercentile
	}
	return hp
}

// Train runs the full loop over preprocessed frame vectors. progress may be
// nil; it is called once per epoch with the epoch number and training loss.
func (t *Trainer) Train(ctx context.Context, frames [][]float32, hp models.Hyperparams, progress func(epoch int, loss float64)) (*Result, error) {
	hp = t.resolve(hp)
	inputDim := hp.InputSize * hp.InputSize

	if len(frames) < 5 {
		return nil, fmt.Errorf("%w: %d frames is not enough to fit a model", faults.ErrInsufficientData, len(frames))
	}
	for i, f := range frames {
		if len(f) != inputDim {
			return nil, fmt.Errorf("%w: frame %d has %d elements, want %d", faults.ErrInsufficientData, i, len(f), inputDim)
		}
	}

	rng := rand.New(rand.NewSource(int64(len(frames))))
	shuffled := make([][]float32, len(frames))
	copy(shuffled, frames)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	valCount := int(float64(len(shuffled)) * hp.ValidationSplit)
	if valCount < 1 {
		valCount = 1
	}
	if valCount >= len(shuffled) {
		return nil, fmt.Errorf("%w: validation split leaves no training frames", faults.ErrInsufficientData)
	}
	valSet := shuffled[:valCount]
	trainSet := shuffled[valCount:]

	ae := vision.NewAutoencoder(inputDim, hp.LatentDim, rng)
	lr := float32(hp.LearningRate)

	bestVal := math.Inf(1)
	var bestArtifact []byte
	sinceImprovement := 0
	epochs := 0

	for epoch := 1; epoch <= hp.MaxEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: training interrupted at epoch %d", faults.ErrCancelled, epoch)
		}

		rng.Shuffle(len(trainSet), func(i, j int) {
			trainSet[i], trainSet[j] = trainSet[j], trainSet[i]
		})

		var trainLoss float64
		for _, x := range trainSet {
			trainLoss += ae.Step(x, lr)
		}
		trainLoss /= float64(len(trainSet))

		if math.IsNaN(trainLoss) || math.IsInf(trainLoss, 0) {
			return nil, fmt.Errorf("%w: non-finite loss at epoch %d", faults.ErrTrainingDiverged, epoch)
		}

		valErr, err := meanScore(ae, valSet)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(valErr) || math.IsInf(valErr, 0) {
			return nil, fmt.Errorf("%w: non-finite validation error at epoch %d", faults.ErrTrainingDiverged, epoch)
		}

		epochs = epoch
		if progress != nil {
			progress(epoch, trainLoss)
		}

		if valErr < bestVal {
			bestVal = valErr
			sinceImprovement = 0
			bestArtifact, err = ae.Marshal()
			if err != nil {
				return nil, err
			}
		} else {
			sinceImprovement++
			if sinceImprovement >= hp.Patience {
				break
			}
		}
	}

	if bestArtifact == nil {
		return nil, fmt.Errorf("%w: no epoch improved on initial weights", faults.ErrTrainingDiverged)
	}

	best, err := vision.UnmarshalAutoencoder(bestArtifact)
	if err != nil {
		return nil, err
	}
	threshold, err := errorPercentile(best, valSet, hp.ThresholdPercentile)
	if err != nil {
		return nil, err
	}

	return &Result{
		Artifact:        bestArtifact,
		Checksum:        vision.Checksum(bestArtifact),
		Threshold:       threshold,
		ValidationError: bestVal,
		Epochs:          epochs,
		Preprocessing: models.Preprocessing{
			InputSize: hp.InputSize,
			Mean:      FrameMean,
			Std:       FrameStd,
		},
	}, nil
}

func meanScore(scorer vision.FrameScorer, frames [][]float32) (float64, error) {
	var sum float64
	for _, x := range frames {
		s, err := scorer.Score(x)
		if err != nil {
			return 0, err
		}
		sum += s
	}
	return sum / float64(len(frames)), nil
}

// errorPercentile returns the p-th percentile of per-frame reconstruction
// errors, the recommended trigger threshold.
func errorPercentile(scorer vision.FrameScorer, frames [][]float32, p float64) (float64, error) {
	errs := make([]float64, 0, len(frames))
	for _, x := range frames {
		s, err := scorer.Score(x)
		if err != nil {
			return 0, err
		}
		errs = append(errs, s)
	}
	sort.Float64s(errs)
	idx := int(math.Ceil(p*float64(len(errs)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(errs) {
		idx = len(errs) - 1
	}
	return errs[idx], nil
}
