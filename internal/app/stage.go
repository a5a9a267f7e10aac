package app

import (
	"errors"
	"fmt"
)

// Stage is one step of the fixed boot sequence. The numeric order is the
// execution order.
type Stage int

const (
	StageDependencies Stage = iota
	StageTransport
	StageSettings
	StageMiddlewares
	StageModels
	StageCache
	StageActions
	StageRoutes
	StageBooting
	StageStart
	StageStarted
	StageClean
)

// ErrUnknownStage is returned for names that do not identify a registrable stage
var ErrUnknownStage = errors.New("unknown stage")

var stageNames = [...]string{
	StageDependencies: "init.dependencies",
	StageTransport:    "init.transport",
	StageSettings:     "init.settings",
	StageMiddlewares:  "init.middlewares",
	StageModels:       "init.models",
	StageCache:        "init.cache",
	StageActions:      "init.actions",
	StageRoutes:       "init.routes",
	StageBooting:      "booting",
	StageStart:        "start",
	StageStarted:      "started",
	StageClean:        "clean",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// Registrable reports whether listeners may be registered for s.
// start and clean are internal.
func (s Stage) Registrable() bool {
	return s >= StageDependencies && s <= StageStarted && s != StageStart
}

// ParseStage returns the registrable stage called name
func ParseStage(name string) (Stage, error) {
	for i, n := range stageNames {
		if n == name && Stage(i).Registrable() {
			return Stage(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStage, name)
}

// Stages returns every stage in execution order
func Stages() []Stage {
	stages := make([]Stage, len(stageNames))
	for i := range stageNames {
		stages[i] = Stage(i)
	}
	return stages
}

// subject identifies what a stage's listeners receive
type subject int

const (
	subjectDependencies subject = iota // nothing; returns *Dependencies
	subjectTransport                   // nothing; returns Transport
	subjectSettings                    // the live *config.Settings
	subjectState                       // the whole *Application
)

func (s Stage) subject() subject {
	switch s {
	case StageDependencies:
		return subjectDependencies
	case StageTransport:
		return subjectTransport
	case StageSettings:
		return subjectSettings
	default:
		return subjectState
	}
}
