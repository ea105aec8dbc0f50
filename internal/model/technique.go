package model

// Technique represents one catalog attack technique (e.g. "T1059.001").
// Catalog data is immutable at runtime; it is written only by the offline
// importer and the startup pack loader.
type Technique struct {
	ID          string     `json:"id" yaml:"id"`
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Tactics     []string   `json:"tactics,omitempty" yaml:"tactics,omitempty"`
	Platforms   []string   `json:"platforms" yaml:"platforms"`
	Executors   []Executor `json:"executors" yaml:"executors"`
	IsSafe      bool       `json:"is_safe" yaml:"is_safe"`
}

// Executor is one concrete platform/command-type implementation of a
// technique.
type Executor struct {
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	Type     string `json:"type" yaml:"type"` // "psh", "cmd", "bash", "sh"
	Platform string `json:"platform,omitempty" yaml:"platform,omitempty"`
	Command  string `json:"command" yaml:"command"`
	Cleanup  string `json:"cleanup,omitempty" yaml:"cleanup,omitempty"`
	Timeout  int    `json:"timeout" yaml:"timeout"` // Seconds.
	IsSafe   bool   `json:"is_safe" yaml:"is_safe"`
}

// SupportsPlatform reports whether the technique lists the given platform.
func (t *Technique) SupportsPlatform(platform string) bool {
	for _, p := range t.Platforms {
		if p == platform {
			return true
		}
	}
	return false
}

// Matches reports whether the executor is usable on the given platform by an
// agent with the given executor types, under the given safe-mode constraint.
// An executor with an empty Platform field inherits the technique's platform
// list and matches any platform.
func (e *Executor) Matches(platform string, agentExecutors []string, safeMode bool) bool {
	if e.Platform != "" && e.Platform != platform {
		return false
	}
	if safeMode && !e.IsSafe {
		return false
	}
	for _, t := range agentExecutors {
		if e.Type == t {
			return true
		}
	}
	return false
}
