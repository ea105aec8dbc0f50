package model

import "time"

// Scenario is an ordered attack plan. Phases execute strictly in order;
// techniques within one phase fan out across the target agents in parallel.
type Scenario struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Phases      []Phase   `json:"phases" yaml:"phases"`
	Tags        []string  `json:"tags,omitempty" yaml:"tags,omitempty"`
	CreatedAt   time.Time `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"-"`
}

// Phase is one sequential step of a scenario.
type Phase struct {
	Name       string               `json:"name" yaml:"name"`
	Order      int                  `json:"order" yaml:"order"`
	Techniques []TechniqueSelection `json:"techniques" yaml:"techniques"`
}

// TechniqueSelection references a catalog technique, optionally pinning a
// named executor. An empty ExecutorName lets the orchestrator pick the first
// compatible executor in catalog order.
type TechniqueSelection struct {
	TechniqueID  string `json:"technique_id" yaml:"technique_id"`
	ExecutorName string `json:"executor_name,omitempty" yaml:"executor_name,omitempty"`
}

// TechniqueIDs returns the unique technique IDs referenced by all phases,
// in first-appearance order.
func (s *Scenario) TechniqueIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, phase := range s.Phases {
		for _, sel := range phase.Techniques {
			if !seen[sel.TechniqueID] {
				seen[sel.TechniqueID] = true
				ids = append(ids, sel.TechniqueID)
			}
		}
	}
	return ids
}
