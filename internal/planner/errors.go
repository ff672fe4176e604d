package planner

import "fmt"

// ConfigError marks a recipe misconfiguration (missing relevance metadata,
// missing output type or prompt template). These are unrecoverable by retry:
// the caller fails the parent job instead of skipping the step.
type ConfigError struct {
	StepKey string
	Reason  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("recipe step %q misconfigured: %s", e.StepKey, e.Reason)
}

// IntegrityError marks inconsistent persisted data, such as a source group
// whose anchor document cannot be found. Planning fails loudly rather than
// emitting a job with a dangling reference.
type IntegrityError struct {
	StepKey string
	Reason  string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("recipe step %q: data integrity violation: %s", e.StepKey, e.Reason)
}
