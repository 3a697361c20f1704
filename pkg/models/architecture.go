package models

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/arbovm/levenshtein"
)

// Architecture is the closed set of model labels sent to the analysis service
type Architecture string

const (
	ArchitectureViT          Architecture = "Vision Transformer (ViT-H/14)"
	ArchitectureResNet       Architecture = "ResNet-152"
	ArchitectureEfficientNet Architecture = "EfficientNet-B7"
)

// maxNameDistance bounds fuzzy matching of user supplied names
const maxNameDistance = 2

// ArchitectureInfo is the display metadata attached to an architecture
type ArchitectureInfo struct {
	Name        Architecture `json:"name"`
	Key         string       `json:"key"`
	Description string       `json:"description"`
}

var architectureInfo = []ArchitectureInfo{
	{
		Name:        ArchitectureViT,
		Key:         "vit",
		Description: "Applies Transformer self-attention to a sequence of image patches.",
	},
	{
		Name:        ArchitectureResNet,
		Key:         "resnet",
		Description: "Uses residual skip connections so gradients survive very deep networks.",
	},
	{
		Name:        ArchitectureEfficientNet,
		Key:         "efficientnet",
		Description: "Balances depth, width and input resolution through compound scaling.",
	},
}

var architectureAliases = map[string]Architecture{
	"vit":                     ArchitectureViT,
	"vith14":                  ArchitectureViT,
	"visiontransformer":       ArchitectureViT,
	"visiontransformervith14": ArchitectureViT,
	"resnet":                  ArchitectureResNet,
	"resnet152":               ArchitectureResNet,
	"efficientnet":            ArchitectureEfficientNet,
	"efficientnetb7":          ArchitectureEfficientNet,
}

// Architectures lists every supported architecture in display order
func Architectures() []ArchitectureInfo {
	out := make([]ArchitectureInfo, len(architectureInfo))
	copy(out, architectureInfo)
	return out
}

// Valid reports whether a is one of the known labels
func (a Architecture) Valid() bool {
	for _, info := range architectureInfo {
		if info.Name == a {
			return true
		}
	}
	return false
}

// Info returns the display metadata for a
func (a Architecture) Info() (ArchitectureInfo, bool) {
	for _, info := range architectureInfo {
		if info.Name == a {
			return info, true
		}
	}
	return ArchitectureInfo{}, false
}

func (a Architecture) String() string {
	return string(a)
}

// ParseArchitecture resolves a label, a short alias or a near miss such as
// "ResNet152" or "efficentnet" to an Architecture.
func ParseArchitecture(name string) (Architecture, error) {
	if a := Architecture(strings.TrimSpace(name)); a.Valid() {
		return a, nil
	}

	key := normalizeName(name)
	if key == "" {
		return "", fmt.Errorf("model architecture is required")
	}
	if a, ok := architectureAliases[key]; ok {
		return a, nil
	}

	best := Architecture("")
	bestDistance := maxNameDistance + 1
	ambiguous := false
	for alias, a := range architectureAliases {
		d := levenshtein.Distance(key, alias)
		switch {
		case d < bestDistance:
			best, bestDistance, ambiguous = a, d, false
		case d == bestDistance && a != best:
			ambiguous = true
		}
	}
	if best == "" || ambiguous {
		return "", fmt.Errorf("unknown model architecture %q", name)
	}
	return best, nil
}

func normalizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
