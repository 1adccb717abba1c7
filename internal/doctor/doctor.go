// Package doctor prints diagnostics about the eccs-e2e environment:
// configuration, target binaries, the server endpoint, stored admin
// credentials, AWS access, Docker and recent runs.
package doctor

import (
	"fmt"
	"io"

	"github.com/majorcontext/eccs-e2e/internal/ui"
)

// Section represents a diagnostic section that can be printed.
type Section interface {
	// Name returns the section name (e.g., "Targets")
	Name() string

	// Print writes the section's diagnostics to w. An error is shown in
	// place of the section's output; the other sections still run.
	Print(w io.Writer) error
}

// Registry holds all registered doctor sections.
type Registry struct {
	sections []Section
}

// NewRegistry creates a new doctor section registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a section to the registry.
func (r *Registry) Register(s Section) {
	r.sections = append(r.sections, s)
}

// Sections returns all registered sections.
func (r *Registry) Sections() []Section {
	return r.sections
}

// Run prints every section to w in registration order and returns how
// many failed.
func (r *Registry) Run(w io.Writer) int {
	failed := 0
	for _, s := range r.sections {
		ui.Section(w, s.Name())
		if err := s.Print(w); err != nil {
			fmt.Fprintf(w, "%s Error: %v\n", ui.FailTag(), err)
			failed++
		}
		fmt.Fprintln(w)
	}
	return failed
}
