package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Defaults applied when the analysis service omits a field
const (
	DefaultPredictedClass       = "Unknown"
	DefaultConfidence           = "0%"
	DefaultArchitecturalInsight = "Analysis completed."
)

// AnalysisResult is the normalized result of one analysis attempt.
// Every service variant (name/confidence, predictedClass/features,
// primaryFace/modelSpecifics) is folded into this shape.
type AnalysisResult struct {
	PredictedClass       string          `json:"predictedClass"`
	Confidence           string          `json:"confidence"`
	ConfidenceScore      float64         `json:"confidenceScore"`
	Features             []string        `json:"features"`
	ArchitecturalInsight string          `json:"architecturalInsight"`
	DetectedFaces        int             `json:"detectedFaces,omitempty"`
	ModelSpecifics       *ModelSpecifics `json:"modelSpecifics,omitempty"`
	RawAnalysis          string          `json:"rawAnalysis,omitempty"`
}

// ModelSpecifics carries the optional technical block some deployments return
type ModelSpecifics struct {
	ProcessingTimeMs  float64   `json:"processingTimeMs"`
	EmbeddingVector   []float64 `json:"embeddingVector,omitempty"`
	TechnicalLog      string    `json:"technicalLog,omitempty"`
	ArchitectureNotes string    `json:"architectureNotes,omitempty"`
}

// ApplyDefaults fills every missing field with its documented default
func (r *AnalysisResult) ApplyDefaults() {
	if strings.TrimSpace(r.PredictedClass) == "" {
		r.PredictedClass = DefaultPredictedClass
	}
	if strings.TrimSpace(r.Confidence) == "" {
		if r.ConfidenceScore > 0 {
			r.Confidence = FormatConfidence(r.ConfidenceScore)
		} else {
			r.Confidence = DefaultConfidence
		}
	}
	if r.ConfidenceScore == 0 {
		if score, ok := ParseConfidence(r.Confidence); ok {
			r.ConfidenceScore = score
		}
	}
	if r.Features == nil {
		r.Features = []string{}
	}
	if strings.TrimSpace(r.ArchitecturalInsight) == "" {
		r.ArchitecturalInsight = DefaultArchitecturalInsight
	}
}

// FormatConfidence renders a [0,1] score as a percentage string such as "97.3%"
func FormatConfidence(score float64) string {
	return fmt.Sprintf("%.1f%%", clampUnit(score)*100)
}

// ParseConfidence converts "97.3%", "0.973" or "97.3" into a score in [0,1].
// Bare numbers above 1 are read as percentages.
func ParseConfidence(value string) (float64, bool) {
	s := strings.TrimSpace(value)
	if s == "" {
		return 0, false
	}
	percent := strings.HasSuffix(s, "%")
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return NormalizeScore(f, percent), true
}

// NormalizeScore maps a raw number to [0,1]; percent forces division by 100
func NormalizeScore(f float64, percent bool) float64 {
	if percent || f > 1 {
		f /= 100
	}
	return clampUnit(f)
}

func clampUnit(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
