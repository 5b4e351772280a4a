package analysis

import (
	"encoding/json"
	"strings"
	"unicode"

	"github.com/rcliao/donelist/internal/domain"
)

// ValidateJSON decodes raw and validates the result.
func ValidateJSON(raw []byte) (*domain.DecompositionResult, error) {
	var candidate interface{}
	if err := json.Unmarshal(raw, &candidate); err != nil {
		return nil, &DecodeError{Message: "Failed to parse AI response", Err: err}
	}
	return Validate(candidate)
}

// Validate checks a decoded JSON value against the decomposition schema.
// Only an object with a steps array passes; every other field is optional
// and falls back to its zero value. Steps beyond domain.MaxSteps are dropped.
func Validate(candidate interface{}) (*domain.DecompositionResult, error) {
	obj, ok := candidate.(map[string]interface{})
	if !ok {
		return nil, &SchemaError{Reason: "response is not an object"}
	}

	rawSteps, present := obj["steps"]
	if !present {
		return nil, &SchemaError{Reason: "steps is missing"}
	}
	steps, ok := rawSteps.([]interface{})
	if !ok {
		return nil, &SchemaError{Reason: "steps is not an array"}
	}

	result := &domain.DecompositionResult{
		Title:       stringField(obj, "title"),
		Assumptions: stringList(obj["assumptions"]),
		Risks:       stringList(obj["risks"]),
		TestPlan:    stringList(obj["testPlan"]),
		Steps:       make([]domain.Step, 0, len(steps)),
	}
	for _, s := range steps {
		result.Steps = append(result.Steps, toStep(s))
	}
	result.TruncateSteps()

	return result, nil
}

func toStep(v interface{}) domain.Step {
	obj, ok := v.(map[string]interface{})
	if !ok {
		return domain.Step{FilesToTouch: make([]string, 0)}
	}
	return domain.Step{
		Title:        stringField(obj, "title"),
		Why:          stringField(obj, "why"),
		How:          stringField(obj, "how"),
		FilesToTouch: stringList(obj["filesToTouch"]),
	}
}

func stringField(obj map[string]interface{}, key string) string {
	s, _ := obj[key].(string)
	return s
}

func stringList(v interface{}) []string {
	out := make([]string, 0)
	items, ok := v.([]interface{})
	if !ok {
		return out
	}
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// ExtractTrailingObject finds a JSON object that runs to the end of text,
// tolerating leading prose such as "Here is the plan: {...}". The leftmost
// opening brace that yields valid JSON wins, so nested objects never shadow
// the outer one.
func ExtractTrailingObject(text string) (interface{}, bool) {
	trimmed := strings.TrimRightFunc(text, unicode.IsSpace)
	if !strings.HasSuffix(trimmed, "}") {
		return nil, false
	}

	for i := 0; i < len(trimmed); i++ {
		if trimmed[i] != '{' {
			continue
		}
		var candidate interface{}
		if err := json.Unmarshal([]byte(trimmed[i:]), &candidate); err == nil {
			return candidate, true
		}
	}
	return nil, false
}

// ParseModelText decodes model output that should be a bare JSON object,
// falling back to ExtractTrailingObject, then validates it.
func ParseModelText(text string) (*domain.DecompositionResult, error) {
	var candidate interface{}
	if err := json.Unmarshal([]byte(text), &candidate); err != nil {
		recovered, ok := ExtractTrailingObject(text)
		if !ok {
			return nil, &DecodeError{Message: "Failed to parse AI response", Err: err}
		}
		candidate = recovered
	}
	return Validate(candidate)
}
