// Package scenario runs the end-to-end assertion script against one eccs
// client.
//
// A Scenario is an ordered list of steps. Steps run strictly in order and
// share a State holding the users, tokens and objects created so far. The
// first failing step aborts the rest.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/majorcontext/eccs-e2e/internal/eccs"
)

// Status is the outcome of a step or of a whole run.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// StepResult is the outcome of one step.
type StepResult struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report collects the step results of a run.
type Report struct {
	Contract string       `json:"contract"`
	Status   Status       `json:"status"`
	Steps    []StepResult `json:"steps"`
	Started  time.Time    `json:"started"`
	Finished time.Time    `json:"finished"`
}

// Passed reports whether no step failed.
func (r *Report) Passed() bool {
	return r.Status == StatusPassed
}

// Count returns how many steps ended with status.
func (r *Report) Count(status Status) int {
	n := 0
	for _, s := range r.Steps {
		if s.Status == status {
			n++
		}
	}
	return n
}

// Reporter is told about every step as soon as it finishes.
type Reporter interface {
	StepFinished(StepResult)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(StepResult)

func (f ReporterFunc) StepFinished(r StepResult) { f(r) }

// Step is one assertion of the script.
type Step struct {
	Name string
	// Needs lists the subcommands the step relies on, directly or through
	// state set by an earlier step. A contract missing any of them skips it.
	Needs []eccs.Op
	// Run performs the step and returns a human-readable summary.
	Run func(ctx context.Context, st *State) (string, error)
}

// Scenario is an ordered list of steps.
type Scenario struct {
	Steps []Step
}

// State is shared by the steps of one run.
type State struct {
	Client *eccs.Client
	Admin  eccs.Auth

	User1, User2, User3 eccs.Credentials
	Auth1, Auth3        eccs.Auth

	GroupID   string
	Encrypted eccs.Ciphertext
	ObjectID  string
	SharedID  string
}

// auth returns how creds authenticate under the client's contract: with a
// token when the contract uses tokens, with the credentials otherwise.
func (st *State) auth(creds eccs.Credentials, token string) eccs.Auth {
	a := creds.Auth()
	a.Token = token
	return a
}

// Run executes every step in order against client. The returned error is
// the failure of the first failing step, if any; the report is always
// complete up to that step.
func (s *Scenario) Run(ctx context.Context, client *eccs.Client, admin eccs.Auth, rep Reporter) (*Report, error) {
	contract := client.Contract()
	report := &Report{
		Contract: contract.Name(),
		Status:   StatusPassed,
		Started:  time.Now(),
	}
	defer func() { report.Finished = time.Now() }()

	st := &State{Client: client, Admin: admin}
	for _, step := range s.Steps {
		res := StepResult{Name: step.Name}
		if missing := unsupported(contract, step.Needs); missing != "" {
			res.Status = StatusSkipped
			res.Detail = fmt.Sprintf("%s not supported by contract %s", missing, contract.Name())
			record(report, rep, res)
			continue
		}

		start := time.Now()
		detail, err := runStep(ctx, step, st)
		res.Duration = time.Since(start)

		var skip *SkipError
		switch {
		case errors.As(err, &skip):
			res.Status = StatusSkipped
			res.Detail = skip.Reason
		case err != nil:
			res.Status = StatusFailed
			res.Detail = err.Error()
			report.Status = StatusFailed
			record(report, rep, res)
			return report, fmt.Errorf("step %s: %w", step.Name, err)
		default:
			res.Status = StatusPassed
			res.Detail = detail
		}
		record(report, rep, res)
	}
	return report, nil
}

func runStep(ctx context.Context, step Step, st *State) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return step.Run(ctx, st)
}

func record(report *Report, rep Reporter, res StepResult) {
	report.Steps = append(report.Steps, res)
	if rep != nil {
		rep.StepFinished(res)
	}
}

func unsupported(c eccs.Contract, ops []eccs.Op) eccs.Op {
	for _, op := range ops {
		if !c.Supports(op) {
			return op
		}
	}
	return ""
}
