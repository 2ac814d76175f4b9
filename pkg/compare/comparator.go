package compare

import (
	"fmt"
	"math"

	"github.com/Rom0219/EDR-ringdown-search/pkg/estimator"
)

// Model names a fitted model family
type Model string

const (
	ModelGR  Model = "GR"
	ModelEDR Model = "EDR"
)

// DefaultTieTolerance keeps the strict rule: EDR wins exactly when its Bayes factor exceeds 1
const DefaultTieTolerance = 0.0

// ModelScore holds the information criteria of one fit
type ModelScore struct {
	LogL float64 `json:"logL"`
	K    int     `json:"k"`
	AIC  float64 `json:"AIC"`
	BIC  float64 `json:"BIC"`
}

// Report compares a GR fit with an EDR fit on the same data
type Report struct {
	N            int        `json:"n"`
	GR           ModelScore `json:"gr"`
	EDR          ModelScore `json:"edr"`
	LRT          float64    `json:"LRT"`
	DeltaBIC     float64    `json:"delta_BIC"`
	BayesFactor  float64    `json:"bayes_factor"`
	Favored      Model      `json:"favored_model"`
	TieTolerance float64    `json:"tie_tolerance"`
}

// Comparator scores fits with Gaussian log-likelihood based criteria
type Comparator struct {
	TieTolerance float64
}

// NewComparator creates a comparator. Zero is the strict rule; a positive tolerance
// keeps GR for ΔBIC improvements up to that size. Negative values are treated as zero.
func NewComparator(tieTolerance float64) *Comparator {
	if tieTolerance < 0 || math.IsNaN(tieTolerance) {
		tieTolerance = DefaultTieTolerance
	}
	return &Comparator{TieTolerance: tieTolerance}
}

// Score computes logL = -½Σ(d-h)², AIC = 2k - 2logL and BIC = k·ln n - 2logL
func Score(data, model []float64, k int) (ModelScore, error) {
	if len(data) != len(model) {
		return ModelScore{}, fmt.Errorf("data and model lengths differ: %d != %d", len(data), len(model))
	}
	if len(data) == 0 {
		return ModelScore{}, fmt.Errorf("cannot score an empty series")
	}

	sum := 0.0
	for i := range data {
		r := data[i] - model[i]
		sum += r * r
	}
	logL := -0.5 * sum

	return ModelScore{
		LogL: logL,
		K:    k,
		AIC:  2*float64(k) - 2*logL,
		BIC:  float64(k)*math.Log(float64(len(data))) - 2*logL,
	}, nil
}

// Compare scores both fits against data and picks the favored model.
// EDR is favored when its Bayes factor exp(ΔBIC/2), ΔBIC = BIC_GR - BIC_EDR, exceeds 1 and
// ΔBIC exceeds the tie tolerance (zero by default); an exact tie goes to GR.
func (c *Comparator) Compare(data []float64, gr, edr *estimator.FitResult) (*Report, error) {
	if gr == nil || edr == nil {
		return nil, fmt.Errorf("both GR and EDR fits are required")
	}

	grScore, err := Score(data, gr.Model, len(gr.Params))
	if err != nil {
		return nil, fmt.Errorf("GR score: %w", err)
	}
	edrScore, err := Score(data, edr.Model, len(edr.Params))
	if err != nil {
		return nil, fmt.Errorf("EDR score: %w", err)
	}

	return c.FromScores(len(data), grScore, edrScore), nil
}

// FromScores builds a report from precomputed scores
func (c *Comparator) FromScores(n int, gr, edr ModelScore) *Report {
	deltaBIC := gr.BIC - edr.BIC
	bayesFactor := math.Exp(deltaBIC / 2)

	// ΔBIC at rounding level gives a Bayes factor of exactly 1, which is a tie
	favored := ModelGR
	if bayesFactor > 1 && deltaBIC > c.TieTolerance {
		favored = ModelEDR
	}

	return &Report{
		N:            n,
		GR:           gr,
		EDR:          edr,
		LRT:          2 * (edr.LogL - gr.LogL),
		DeltaBIC:     deltaBIC,
		BayesFactor:  bayesFactor,
		Favored:      favored,
		TieTolerance: c.TieTolerance,
	}
}

// Compare uses a comparator with the default tie tolerance
func Compare(data []float64, gr, edr *estimator.FitResult) (*Report, error) {
	return NewComparator(DefaultTieTolerance).Compare(data, gr, edr)
}
