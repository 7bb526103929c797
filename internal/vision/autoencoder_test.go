package vision

import (
	"image"
	"image/color"
	"math"
	"math/rand"
	"testing"

	"github.com/your-org/sentinel/internal/models"
)

func TestAutoencoderStepReducesLoss(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	ae := NewAutoencoder(16, 4, rng)

	// A fixed pattern the model should learn to reconstruct.
	x := make([]float32, 16)
	for i := range x {
		x[i] = float32(i%4) * 0.25
	}

	first := ae.Step(x, 0.05)
	var last float64
	for i := 0; i < 200; i++ {
		last = ae.Step(x, 0.05)
	}

	if math.IsNaN(last) || math.IsInf(last, 0) {
		t.Fatalf("training diverged: loss=%v", last)
	}
	if last >= first {
		t.Fatalf("loss did not decrease: first=%v last=%v", first, last)
	}
}

func TestAutoencoderScoreDimensionMismatch(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	ae := NewAutoencoder(16, 4, rng)

	if _, err := ae.Score(make([]float32, 8)); err == nil {
		t.Fatal("expected error for wrong input dimension")
	}
}

func TestAutoencoderMarshalRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	ae := NewAutoencoder(16, 4, rng)

	x := make([]float32, 16)
	for i := range x {
		x[i] = rng.Float32()
	}
	want, err := ae.Score(x)
	if err != nil {
		t.Fatal(err)
	}

	data, err := ae.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	loaded, err := UnmarshalAutoencoder(data)
	if err != nil {
		t.Fatal(err)
	}
	got, err := loaded.Score(x)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("score changed after round trip: want %v got %v", want, got)
	}

	if Checksum(data) != Checksum(data) {
		t.Fatal("checksum is not deterministic")
	}
}

func TestUnmarshalAutoencoderRejectsBadArtifacts(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"not json", "{{{"},
		{"zero dims", `{"input_dim":0,"latent_dim":4,"w1":[],"b1":[],"w2":[],"b2":[]}`},
		{"shape mismatch", `{"input_dim":4,"latent_dim":2,"w1":[1,2],"b1":[0,0],"w2":[1,2,3,4,5,6,7,8],"b2":[0,0,0,0]}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := UnmarshalAutoencoder([]byte(tc.data)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestFrameVector(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: 128, G: 128, B: 128, A: 255})
		}
	}

	prep := models.Preprocessing{InputSize: 8, Mean: 128, Std: 64}
	vec := FrameVector(img, prep)

	if len(vec) != 64 {
		t.Fatalf("expected 64 elements, got %d", len(vec))
	}
	for i, v := range vec {
		if math.Abs(float64(v)) > 0.01 {
			t.Fatalf("element %d: expected ~0 for uniform gray frame, got %v", i, v)
		}
	}
}

func TestNMSObjectsSuppressesOverlapsPerClass(t *testing.T) {
	objects := []models.DetectedObject{
		{Class: "person", Confidence: 0.9, BBox: [4]float32{0.1, 0.1, 0.5, 0.5}},
		{Class: "person", Confidence: 0.8, BBox: [4]float32{0.12, 0.12, 0.52, 0.52}},
		{Class: "car", Confidence: 0.7, BBox: [4]float32{0.1, 0.1, 0.5, 0.5}},
	}

	kept := nmsObjects(objects, 0.45)
	if len(kept) != 2 {
		t.Fatalf("expected 2 objects after NMS, got %d", len(kept))
	}
	if kept[0].Class != "person" || kept[0].Confidence != 0.9 {
		t.Fatalf("expected highest-confidence person first, got %+v", kept[0])
	}
	if kept[1].Class != "car" {
		t.Fatalf("overlapping different-class box should survive, got %+v", kept[1])
	}
}
