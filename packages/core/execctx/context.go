// Package execctx carries per-run mutable state (variables, prior step
// snapshots, the last response) and renders {{...}} placeholders against
// it. Rendering is deliberately lenient: unresolved placeholders stay
// literal instead of failing the run.
package execctx

// Context lives for exactly one case or suite run and is discarded after.
// Suites mutate Variables between steps and accumulate StepHistory; cases
// only ever see CurrentResponse.
type Context struct {
	Variables       map[string]any
	StepHistory     map[string]map[string]any
	CurrentResponse map[string]any
}

// New returns a context seeded with vars. The map is used directly, not
// copied; the caller hands over ownership for the run's lifetime.
func New(vars map[string]any) *Context {
	if vars == nil {
		vars = make(map[string]any)
	}
	return &Context{
		Variables:   vars,
		StepHistory: make(map[string]map[string]any),
	}
}

// RememberStep stores a step's captured response under alias so later
// steps can reference it via prev.<alias> templates.
func (c *Context) RememberStep(alias string, snapshot map[string]any) {
	c.StepHistory[alias] = snapshot
}

// SetCurrentResponse records the most recent response snapshot for
// response.* templates and assertion evaluation.
func (c *Context) SetCurrentResponse(snapshot map[string]any) {
	c.CurrentResponse = snapshot
}
