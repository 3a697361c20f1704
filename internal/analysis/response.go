package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"neuroface-id/pkg/models"
)

// wireFace is one recognized identity in the face-recognition variants
type wireFace struct {
	Name       string          `json:"name"`
	Confidence json.RawMessage `json:"confidence"`
}

// wireResult is the union of every payload shape deployments return:
// {name, confidence}, {predictedClass, confidence, features, architecturalInsight},
// {primaryFace, confidence, detectedFaces, modelSpecifics} and {success, faces}.
type wireResult struct {
	Name                 string                 `json:"name"`
	PredictedClass       string                 `json:"predictedClass"`
	Confidence           json.RawMessage        `json:"confidence"`
	Features             []string               `json:"features"`
	ArchitecturalInsight string                 `json:"architecturalInsight"`
	PrimaryFace          *wireFace              `json:"primaryFace"`
	Faces                []wireFace             `json:"faces"`
	DetectedFaces        json.RawMessage        `json:"detectedFaces"`
	ModelSpecifics       *models.ModelSpecifics `json:"modelSpecifics"`
}

// errorPayload is the body of a non-success response
type errorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// decodeResult parses a success body into the normalized result, defaults applied
func decodeResult(data []byte) (*models.AnalysisResult, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("response is not a JSON object")
	}

	var wire wireResult
	if err := json.Unmarshal(trimmed, &wire); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}

	result := &models.AnalysisResult{
		PredictedClass:       firstNonEmpty(wire.PredictedClass, primaryName(wire), wire.Name),
		Features:             wire.Features,
		ArchitecturalInsight: wire.ArchitecturalInsight,
		ModelSpecifics:       wire.ModelSpecifics,
	}

	confidence := wire.Confidence
	if isAbsent(confidence) && wire.PrimaryFace != nil {
		confidence = wire.PrimaryFace.Confidence
	}
	if isAbsent(confidence) && len(wire.Faces) > 0 {
		confidence = wire.Faces[0].Confidence
	}
	result.Confidence, result.ConfidenceScore = parseConfidence(confidence)

	result.DetectedFaces = detectedFaces(wire)
	result.ApplyDefaults()
	return result, nil
}

// decodeError extracts a human readable message from a failure body
func decodeError(data []byte, status int) string {
	var payload errorPayload
	if err := json.Unmarshal(data, &payload); err == nil {
		if msg := firstNonEmpty(payload.Error, payload.Message); msg != "" {
			return msg
		}
	}
	return fmt.Sprintf("server error %d", status)
}

// parseConfidence keeps string confidences verbatim and formats numeric ones
func parseConfidence(raw json.RawMessage) (string, float64) {
	if isAbsent(raw) {
		return "", 0
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		score, _ := models.ParseConfidence(text)
		return strings.TrimSpace(text), score
	}

	var number float64
	if err := json.Unmarshal(raw, &number); err == nil {
		score := models.NormalizeScore(number, false)
		return models.FormatConfidence(score), score
	}
	return "", 0
}

func detectedFaces(wire wireResult) int {
	if !isAbsent(wire.DetectedFaces) {
		var count int
		if err := json.Unmarshal(wire.DetectedFaces, &count); err == nil {
			return count
		}
		var list []json.RawMessage
		if err := json.Unmarshal(wire.DetectedFaces, &list); err == nil {
			return len(list)
		}
	}
	if len(wire.Faces) > 0 {
		return len(wire.Faces)
	}
	return 0
}

func primaryName(wire wireResult) string {
	if wire.PrimaryFace != nil && wire.PrimaryFace.Name != "" {
		return wire.PrimaryFace.Name
	}
	if len(wire.Faces) > 0 {
		return wire.Faces[0].Name
	}
	return ""
}

func isAbsent(raw json.RawMessage) bool {
	s := bytes.TrimSpace(raw)
	return len(s) == 0 || bytes.Equal(s, []byte("null"))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
