package cmake

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/frederic-klein/mlhpkg/internal/logger"
	"github.com/frederic-klein/mlhpkg/internal/recipe"
)

const defaultProgram = "cmake"

// Config locates the project and the out-of-source build tree.
type Config struct {
	Program   string // defaults to "cmake"
	SourceDir string
	BuildDir  string
	Generator string // passed as -G when set
	Jobs      int    // passed as --parallel when > 0
}

// CMake configures and builds a project through the cmake command line.
type CMake struct {
	runner Runner
	cfg    Config
}

// New creates a CMake driver.
func New(runner Runner, cfg Config) *CMake {
	if cfg.Program == "" {
		cfg.Program = defaultProgram
	}
	return &CMake{runner: runner, cfg: cfg}
}

// Configure generates the build tree with the given cache definitions.
func (c *CMake) Configure(ctx context.Context, defs map[string]string) error {
	if err := os.MkdirAll(c.cfg.BuildDir, 0755); err != nil {
		return fmt.Errorf("creating build dir: %w", err)
	}

	args := c.ConfigureArgs(defs)
	if err := c.runner.Run(ctx, c.cfg.BuildDir, c.cfg.Program, args...); err != nil {
		return fmt.Errorf("%w: cmake configure: %w", recipe.ErrBuildFailure, err)
	}
	return nil
}

// ConfigureArgs returns the configure command line, defines sorted by name.
func (c *CMake) ConfigureArgs(defs map[string]string) []string {
	args := []string{"-S", c.cfg.SourceDir, "-B", c.cfg.BuildDir}
	if c.cfg.Generator != "" {
		args = append(args, "-G", c.cfg.Generator)
	}
	for _, k := range recipe.SortedKeys(defs) {
		args = append(args, fmt.Sprintf("-D%s=%s", k, defs[k]))
	}
	return args
}

// Build compiles the configured tree. buildType selects the configuration on
// multi-config generators and is ignored by single-config ones.
func (c *CMake) Build(ctx context.Context, buildType string) error {
	args := c.BuildArgs(buildType)
	logger.Logger().Debugf("cmake build in %s", c.cfg.BuildDir)
	if err := c.runner.Run(ctx, c.cfg.BuildDir, c.cfg.Program, args...); err != nil {
		return fmt.Errorf("%w: cmake build: %w", recipe.ErrBuildFailure, err)
	}
	return nil
}

// BuildArgs returns the build command line.
func (c *CMake) BuildArgs(buildType string) []string {
	args := []string{"--build", c.cfg.BuildDir}
	if buildType != "" {
		args = append(args, "--config", buildType)
	}
	if c.cfg.Jobs > 0 {
		args = append(args, "--parallel", strconv.Itoa(c.cfg.Jobs))
	}
	return args
}
