package attest

// Scenario is a named body with cleanup steps. Every cleanup step runs
// after the body whatever happened to it or to the steps before it.
type Scenario struct {
	Key  string
	Name string

	body     func(*Do)
	cleanups []func(*Do)
}

// NewScenario creates an empty scenario.
func NewScenario(key, name string) *Scenario {
	return &Scenario{Key: key, Name: name}
}

// Run sets the scenario body.
func (s *Scenario) Run(fn func(*Do)) *Scenario {
	s.body = fn
	return s
}

// Cleanup appends a cleanup step. Steps run in the order they were added.
func (s *Scenario) Cleanup(fn func(*Do)) *Scenario {
	s.cleanups = append(s.cleanups, fn)
	return s
}
