package enums

import "fmt"

// ModelType selects the generation model tier for an analysis.
type ModelType string

const (
	ModelFlash ModelType = "flash"
	ModelPro   ModelType = "pro"
)

var validModelTypes = []ModelType{ModelFlash, ModelPro}

// String implements fmt.Stringer.
func (m ModelType) String() string {
	return string(m)
}

// IsValid reports whether the value is a known ModelType.
func (m ModelType) IsValid() bool {
	for _, candidate := range validModelTypes {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParseModelType converts raw input into a ModelType.
func ParseModelType(value string) (ModelType, error) {
	for _, candidate := range validModelTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid model type %q", value)
}
