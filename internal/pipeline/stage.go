package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/phovea/productbuild/internal/builder"
	"github.com/phovea/productbuild/internal/compose"
	"github.com/phovea/productbuild/internal/product"
	"github.com/phovea/productbuild/internal/workspace"
)

// Stage is one step of a part pipeline.
type Stage int

const (
	StagePrepare Stage = iota
	StageInstall
	StageBuild
	StageDockerize
	StagePush
)

var stageNames = [...]string{"prepare", "install", "build", "dockerize", "push"}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// State is the progress of a part. States only move forward.
type State int

const (
	StateCreated State = iota
	StatePrepared
	StateInstalled
	StateBuilt
	StateDockerized
	StatePushed
	StateFailed
)

var stateNames = [...]string{"created", "prepared", "installed", "built", "dockerized", "pushed", "failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// completes maps each stage to the state reached when it succeeds.
var completes = map[Stage]State{
	StagePrepare:   StatePrepared,
	StageInstall:   StateInstalled,
	StageBuild:     StateBuilt,
	StageDockerize: StateDockerized,
	StagePush:      StatePushed,
}

// StageError records the stage a part failed in.
type StageError struct {
	Part  string
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("part %s failed in %s: %v", e.Part, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// PartResult is the outcome of one part pipeline.
type PartResult struct {
	Part      *product.Part
	State     State
	Err       error
	Workspace *workspace.Workspace
	Output    *builder.Output

	// Compose is the compose input of the part, set once its fragments are loaded
	Compose *compose.Entry

	Duration time.Duration
}

// Succeeded reports whether the part completed without error.
func (r *PartResult) Succeeded() bool {
	return r.Err == nil && r.State != StateFailed
}

// FailedStage returns the stage the part failed in.
func (r *PartResult) FailedStage() (Stage, bool) {
	var serr *StageError
	if !errors.As(r.Err, &serr) {
		return 0, false
	}
	return serr.Stage, true
}

func (r *PartResult) complete(s Stage) {
	next := completes[s]
	if r.State == StateFailed || next <= r.State {
		panic(fmt.Sprintf("pipeline: part %s cannot move from %s to %s", r.Part.Key, r.State, next))
	}
	r.State = next
}

func (r *PartResult) fail(s Stage, err error) error {
	r.State = StateFailed
	r.Err = &StageError{Part: r.Part.Key, Stage: s, Err: err}
	return r.Err
}
