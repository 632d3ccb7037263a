package cmake

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/frederic-klein/mlhpkg/internal/recipe"
)

type call struct {
	Dir  string
	Name string
	Args []string
}

type fakeRunner struct {
	calls []call
	errs  []error // returned in order, nil when exhausted
}

func (f *fakeRunner) Run(ctx context.Context, dir, name string, args ...string) error {
	f.calls = append(f.calls, call{Dir: dir, Name: name, Args: args})
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func TestCMake_Configure(t *testing.T) {
	tests := []struct {
		name   string
		shared bool
		want   string
	}{
		{"static", false, "-DBUILD_SHARED_LIBS=False"},
		{"shared", true, "-DBUILD_SHARED_LIBS=True"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			buildDir := filepath.Join(t.TempDir(), "build")
			runner := &fakeRunner{}
			c := New(runner, Config{SourceDir: "/src", BuildDir: buildDir})
			defs := recipe.Default().Definitions(recipe.Options{Shared: tt.shared}, recipe.Settings{BuildType: "Release"})

			// Act
			err := c.Configure(context.Background(), defs)

			// Assert
			if err != nil {
				t.Fatalf("Configure() error = %v", err)
			}
			want := []call{{
				Dir:  buildDir,
				Name: "cmake",
				Args: []string{"-S", "/src", "-B", buildDir, tt.want, "-DCMAKE_BUILD_TYPE=Release"},
			}}
			if diff := cmp.Diff(want, runner.calls); diff != "" {
				t.Errorf("calls mismatch (-want +got):\n%s", diff)
			}
			if _, err := os.Stat(buildDir); err != nil {
				t.Errorf("build dir not created: %v", err)
			}
		})
	}
}

func TestCMake_ConfigureArgs_Generator(t *testing.T) {
	c := New(&fakeRunner{}, Config{SourceDir: "src", BuildDir: "build", Generator: "Ninja"})
	got := c.ConfigureArgs(map[string]string{"B": "2", "A": "1"})
	want := []string{"-S", "src", "-B", "build", "-G", "Ninja", "-DA=1", "-DB=2"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ConfigureArgs() mismatch (-want +got):\n%s", diff)
	}
}

func TestCMake_BuildArgs(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		buildType string
		want      []string
	}{
		{"plain", Config{BuildDir: "build"}, "", []string{"--build", "build"}},
		{"with config", Config{BuildDir: "build"}, "Debug", []string{"--build", "build", "--config", "Debug"}},
		{"parallel", Config{BuildDir: "build", Jobs: 8}, "Release", []string{"--build", "build", "--config", "Release", "--parallel", "8"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(&fakeRunner{}, tt.cfg).BuildArgs(tt.buildType)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("BuildArgs() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCMake_FailuresAreBuildFailures(t *testing.T) {
	exitErr := errors.New("exit status 1")

	runner := &fakeRunner{errs: []error{exitErr}}
	c := New(runner, Config{SourceDir: "src", BuildDir: t.TempDir(), Program: "cmake3"})

	err := c.Configure(context.Background(), nil)
	if !errors.Is(err, recipe.ErrBuildFailure) {
		t.Errorf("Configure() error = %v, want ErrBuildFailure", err)
	}
	if !errors.Is(err, exitErr) {
		t.Errorf("Configure() error = %v, want wrapped runner error", err)
	}
	if runner.calls[0].Name != "cmake3" {
		t.Errorf("program = %q, want cmake3", runner.calls[0].Name)
	}

	runner.errs = []error{exitErr}
	if err := c.Build(context.Background(), "Release"); !errors.Is(err, recipe.ErrBuildFailure) {
		t.Errorf("Build() error = %v, want ErrBuildFailure", err)
	}
}

// checkShellAvailable skips tests that need a POSIX shell
func checkShellAvailable(t *testing.T) string {
	t.Helper()
	for _, shell := range []string{"/bin/sh", "/bin/bash", "/usr/bin/bash"} {
		if _, err := exec.LookPath(shell); err == nil {
			return shell
		}
	}
	t.Skip("No shell (bash or sh) available in test environment")
	return ""
}

func TestExecRunner_Run(t *testing.T) {
	shell := checkShellAvailable(t)
	dir := t.TempDir()

	err := ExecRunner{Env: []string{"MLH_TEST_VALUE=42"}}.Run(context.Background(), dir, shell, "-c", `echo "$MLH_TEST_VALUE" > out.txt; echo warning >&2`)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if string(data) != "42\n" {
		t.Errorf("output = %q, want %q", data, "42\n")
	}
}

func TestExecRunner_NonZeroExit(t *testing.T) {
	shell := checkShellAvailable(t)

	err := ExecRunner{}.Run(context.Background(), t.TempDir(), shell, "-c", "exit 3")
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("Run() error = %v, want *exec.ExitError", err)
	}
	if exitErr.ExitCode() != 3 {
		t.Errorf("exit code = %d, want 3", exitErr.ExitCode())
	}
}

func TestExecRunner_Cancelled(t *testing.T) {
	shell := checkShellAvailable(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := (ExecRunner{}).Run(ctx, t.TempDir(), shell, "-c", "sleep 5"); err == nil {
		t.Error("Run() with cancelled context error = nil")
	}
}
