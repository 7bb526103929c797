package vision

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
)

// Autoencoder is a single-hidden-layer linear reconstruction model over flat
// grayscale frame vectors. Encode compresses to the latent, Decode
// reconstructs; the gap between input and reconstruction is the anomaly
// signal. Small enough to train in-process and to ship as a portable
// artifact.
type Autoencoder struct {
	InputDim  int       `json:"input_dim"`
	LatentDim int       `json:"latent_dim"`
	W1        []float32 `json:"w1"` // [LatentDim][InputDim], row-major
	B1        []float32 `json:"b1"` // [LatentDim]
	W2        []float32 `json:"w2"` // [InputDim][LatentDim], row-major
	B2        []float32 `json:"b2"` // [InputDim]
}

// NewAutoencoder initialises weights with small symmetric random values.
func NewAutoencoder(inputDim, latentDim int, rng *rand.Rand) *Autoencoder {
	scale := float32(1.0 / math.Sqrt(float64(inputDim)))
	ae := &Autoencoder{
		InputDim:  inputDim,
		LatentDim: latentDim,
		W1:        make([]float32, latentDim*inputDim),
		B1:        make([]float32, latentDim),
		W2:        make([]float32, inputDim*latentDim),
		B2:        make([]float32, inputDim),
	}
	for i := range ae.W1 {
		ae.W1[i] = (rng.Float32()*2 - 1) * scale
	}
	for i := range ae.W2 {
		ae.W2[i] = (rng.Float32()*2 - 1) * scale
	}
	return ae
}

// Encode maps an input vector to its latent representation.
func (ae *Autoencoder) Encode(x []float32) []float32 {
	z := make([]float32, ae.LatentDim)
	for j := 0; j < ae.LatentDim; j++ {
		sum := ae.B1[j]
		row := ae.W1[j*ae.InputDim : (j+1)*ae.InputDim]
		for i, xi := range x {
			sum += row[i] * xi
		}
		z[j] = sum
	}
	return z
}

// Decode reconstructs an input vector from its latent representation.
func (ae *Autoencoder) Decode(z []float32) []float32 {
	xhat := make([]float32, ae.InputDim)
	for i := 0; i < ae.InputDim; i++ {
		sum := ae.B2[i]
		row := ae.W2[i*ae.LatentDim : (i+1)*ae.LatentDim]
		for j, zj := range z {
			sum += row[j] * zj
		}
		xhat[i] = sum
	}
	return xhat
}

// Score returns the mean squared reconstruction error for one frame vector.
func (ae *Autoencoder) Score(x []float32) (float64, error) {
	if len(x) != ae.InputDim {
		return 0, fmt.Errorf("frame vector has %d elements, model expects %d", len(x), ae.InputDim)
	}
	xhat := ae.Decode(ae.Encode(x))
	var sum float64
	for i := range x {
		d := float64(x[i] - xhat[i])
		sum += d * d
	}
	return sum / float64(ae.InputDim), nil
}

// Step runs one SGD update on a single example and returns its squared error.
func (ae *Autoencoder) Step(x []float32, lr float32) float64 {
	z := ae.Encode(x)
	xhat := ae.Decode(z)

	// Output-layer error and gradient.
	dOut := make([]float32, ae.InputDim)
	var loss float64
	for i := range x {
		d := xhat[i] - x[i]
		dOut[i] = 2 * d / float32(ae.InputDim)
		loss += float64(d) * float64(d)
	}
	loss /= float64(ae.InputDim)

	// Backprop into latent.
	dZ := make([]float32, ae.LatentDim)
	for i := 0; i < ae.InputDim; i++ {
		row := ae.W2[i*ae.LatentDim : (i+1)*ae.LatentDim]
		for j := 0; j < ae.LatentDim; j++ {
			dZ[j] += dOut[i] * row[j]
		}
	}

	// Update decoder.
	for i := 0; i < ae.InputDim; i++ {
		row := ae.W2[i*ae.LatentDim : (i+1)*ae.LatentDim]
		for j := 0; j < ae.LatentDim; j++ {
			row[j] -= lr * dOut[i] * z[j]
		}
		ae.B2[i] -= lr * dOut[i]
	}

	// Update encoder.
	for j := 0; j < ae.LatentDim; j++ {
		row := ae.W1[j*ae.InputDim : (j+1)*ae.InputDim]
		for i := 0; i < ae.InputDim; i++ {
			row[i] -= lr * dZ[j] * x[i]
		}
		ae.B1[j] -= lr * dZ[j]
	}

	return loss
}

// Marshal serializes the model into a portable artifact.
func (ae *Autoencoder) Marshal() ([]byte, error) {
	data, err := json.Marshal(ae)
	if err != nil {
		return nil, fmt.Errorf("marshal autoencoder: %w", err)
	}
	return data, nil
}

// UnmarshalAutoencoder parses an artifact and validates its shape.
func UnmarshalAutoencoder(data []byte) (*Autoencoder, error) {
	ae := &Autoencoder{}
	if err := json.Unmarshal(data, ae); err != nil {
		return nil, fmt.Errorf("unmarshal autoencoder: %w", err)
	}
	if ae.InputDim <= 0 || ae.LatentDim <= 0 {
		return nil, fmt.Errorf("artifact has invalid dimensions %dx%d", ae.InputDim, ae.LatentDim)
	}
	if len(ae.W1) != ae.LatentDim*ae.InputDim || len(ae.B1) != ae.LatentDim ||
		len(ae.W2) != ae.InputDim*ae.LatentDim || len(ae.B2) != ae.InputDim {
		return nil, fmt.Errorf("artifact weight shapes do not match declared dimensions")
	}
	return ae, nil
}

// Checksum returns the hex SHA-256 of an artifact's bytes.
func Checksum(artifact []byte) string {
	sum := sha256.Sum256(artifact)
	return hex.EncodeToString(sum[:])
}
