package recipe

import (
	"context"
	"errors"
	"fmt"

	"github.com/frederic-klein/mlhpkg/internal/logger"
	"github.com/frederic-klein/mlhpkg/internal/packager"
)

// Phase is a lifecycle state of a Session.
type Phase int

const (
	PhaseConfigured Phase = iota
	PhaseBuilt
	PhasePackaged
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseConfigured:
		return "configured"
	case PhaseBuilt:
		return "built"
	case PhasePackaged:
		return "packaged"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Builder drives the native build system.
type Builder interface {
	Configure(ctx context.Context, defs map[string]string) error
	Build(ctx context.Context, buildType string) error
}

// Collector copies build outputs into the package layout.
type Collector interface {
	Collect(rules []packager.Rule) (*packager.Result, error)
}

// SessionConfig wires a descriptor to the tools that act on it.
type SessionConfig struct {
	Descriptor *Descriptor
	Options    Options
	Settings   Settings
	Builder    Builder
	Collector  Collector
	// Definitions are extra build-system defines, e.g. from generators.
	// Defines derived from options and settings take precedence.
	Definitions map[string]string
}

// Session runs the configured -> built -> packaged lifecycle exactly once.
// It is not safe for concurrent use.
type Session struct {
	cfg   SessionConfig
	phase Phase
}

// NewSession creates a session in the configured phase.
func NewSession(cfg SessionConfig) *Session {
	return &Session{cfg: cfg, phase: PhaseConfigured}
}

// Phase returns the current lifecycle phase.
func (s *Session) Phase() Phase {
	return s.phase
}

// Build configures and builds the library. A failure moves the session to
// the failed phase; there is no retry.
func (s *Session) Build(ctx context.Context) error {
	log := logger.Logger()
	desc := s.cfg.Descriptor

	if s.phase != PhaseConfigured {
		return &Error{Op: "build", Package: desc.Ref(), Err: fmt.Errorf("%w: session is %s", ErrPhaseOrder, s.phase)}
	}

	defs := make(map[string]string, len(s.cfg.Definitions)+2)
	for k, v := range s.cfg.Definitions {
		defs[k] = v
	}
	for k, v := range desc.Definitions(s.cfg.Options, s.cfg.Settings) {
		defs[k] = v
	}

	log.Infof("%s: configuring (%s=%s)", desc.Ref(), DefineSharedLibs, defs[DefineSharedLibs])
	if err := s.cfg.Builder.Configure(ctx, defs); err != nil {
		s.phase = PhaseFailed
		return &Error{Op: "configure", Package: desc.Ref(), Err: asBuildFailure(err)}
	}

	log.Infof("%s: building", desc.Ref())
	if err := s.cfg.Builder.Build(ctx, desc.BuildType(s.cfg.Settings)); err != nil {
		s.phase = PhaseFailed
		return &Error{Op: "build", Package: desc.Ref(), Err: asBuildFailure(err)}
	}

	s.phase = PhaseBuilt
	return nil
}

// Package collects the build artifacts. It requires a successful Build.
func (s *Session) Package() (*packager.Result, error) {
	desc := s.cfg.Descriptor

	if s.phase != PhaseBuilt {
		return nil, &Error{Op: "package", Package: desc.Ref(), Err: fmt.Errorf("%w: session is %s", ErrPhaseOrder, s.phase)}
	}

	res, err := s.cfg.Collector.Collect(desc.Layout)
	if err != nil {
		s.phase = PhaseFailed
		return nil, &Error{Op: "package", Package: desc.Ref(), Err: err}
	}

	s.phase = PhasePackaged
	return res, nil
}

func asBuildFailure(err error) error {
	if errors.Is(err, ErrBuildFailure) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrBuildFailure, err)
}
