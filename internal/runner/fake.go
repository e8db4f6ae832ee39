package runner

import (
	"context"
	"fmt"
)

// Fake is a scripted Runner for tests. Each call is recorded; responses are
// keyed by tool name.
type Fake struct {
	Calls        []Spec
	Results      map[string]Result
	Errs         map[string]error
	MissingTools map[string]bool
	// OnRun, when set, observes each call before the scripted result is
	// returned. Tests use it to emulate side effects like pg_dump writing
	// its output file.
	OnRun func(Spec)
}

// NewFake creates an empty fake runner that succeeds for every tool.
func NewFake() *Fake {
	return &Fake{
		Results:      make(map[string]Result),
		Errs:         make(map[string]error),
		MissingTools: make(map[string]bool),
	}
}

// Run records the call and returns the scripted result.
func (f *Fake) Run(_ context.Context, spec Spec) (Result, error) {
	f.Calls = append(f.Calls, spec)
	if f.OnRun != nil {
		f.OnRun(spec)
	}
	return f.Results[spec.Name], f.Errs[spec.Name]
}

// LookPath honors MissingTools.
func (f *Fake) LookPath(name string) error {
	if f.MissingTools[name] {
		return fmt.Errorf("exec: %q: executable file not found in $PATH", name)
	}
	return nil
}

// CallsTo returns the recorded invocations of one tool.
func (f *Fake) CallsTo(name string) []Spec {
	var out []Spec
	for _, c := range f.Calls {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}
