package domain

// MaxSteps bounds how many steps a decomposition may carry after decoding.
const MaxSteps = 4

type DecompositionResult struct {
	Title       string   `json:"title,omitempty"`
	Assumptions []string `json:"assumptions"`
	Steps       []Step   `json:"steps"`
	Risks       []string `json:"risks"`
	TestPlan    []string `json:"testPlan"`
}

type Step struct {
	Title        string   `json:"title"`
	Why          string   `json:"why,omitempty"`
	How          string   `json:"how,omitempty"`
	FilesToTouch []string `json:"filesToTouch"`
}

func (r *DecompositionResult) Clone() *DecompositionResult {
	cp := &DecompositionResult{
		Title:       r.Title,
		Assumptions: append([]string(nil), r.Assumptions...),
		Risks:       append([]string(nil), r.Risks...),
		TestPlan:    append([]string(nil), r.TestPlan...),
		Steps:       make([]Step, len(r.Steps)),
	}
	for i, s := range r.Steps {
		s.FilesToTouch = append([]string(nil), s.FilesToTouch...)
		cp.Steps[i] = s
	}
	return cp
}

// TruncateSteps caps the step list at MaxSteps, keeping the original order.
func (r *DecompositionResult) TruncateSteps() {
	if len(r.Steps) > MaxSteps {
		r.Steps = r.Steps[:MaxSteps]
	}
}
