package manifest

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/frederic-klein/mlhpkg/internal/recipe"
)

var linuxRelease = recipe.Settings{OS: "Linux", Arch: "x86_64", Compiler: "gcc", BuildType: "Release"}

func TestEmitter_Emit(t *testing.T) {
	info := &Info{
		Name:      "MathLibHelper",
		Version:   "0.1.0",
		PackageID: "id",
		Settings:  map[string]string{"os": "Linux", "arch": "x86_64"},
		Options:   map[string]string{"shared": "False"},
		Requires:  []string{"doctest/2.3.4@bincrafters/stable"},
		Libs:      []string{"MathLibHelper"},
	}

	var buf bytes.Buffer
	if err := NewEmitter(&buf).Emit(info); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}

	want := `[package]
    name=MathLibHelper
    package_id=id
    version=0.1.0

[settings]
    arch=x86_64
    os=Linux

[options]
    shared=False

[requires]
    doctest/2.3.4@bincrafters/stable

[libs]
    MathLibHelper

`
	if got := buf.String(); got != want {
		t.Errorf("Emit() =\n%s\nwant:\n%s", got, want)
	}
}

func TestParser_Parse(t *testing.T) {
	input := `# written by mlhpkg
[package]
    name=MathLibHelper
    version=0.1.0
    package_id=abc

[settings]
    build_type=Debug

[options]
    shared=True

[requires]
    doctest/2.3.4@bincrafters/stable

[extra]
    ignored

[libs]
    MathLibHelper
    MathLibHelperExtras
`
	got, err := NewParser(strings.NewReader(input)).Parse()
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	want := &Info{
		Name:      "MathLibHelper",
		Version:   "0.1.0",
		PackageID: "abc",
		Settings:  map[string]string{"build_type": "Debug"},
		Options:   map[string]string{"shared": "True"},
		Requires:  []string{"doctest/2.3.4@bincrafters/stable"},
		Libs:      []string{"MathLibHelper", "MathLibHelperExtras"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestParser_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"no package section", "[libs]\n    MathLibHelper\n"},
		{"malformed key", "[package]\n    name MathLibHelper\n"},
		{"unindented entry", "[package]\n    name=x\n[libs]\nMathLibHelper\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewParser(strings.NewReader(tt.input)).Parse(); err == nil {
				t.Error("Parse() error = nil, want error")
			}
		})
	}
}

func TestRoundTrip_File(t *testing.T) {
	info := New(recipe.Default(), recipe.Options{Shared: true}, linuxRelease)
	path := filepath.Join(t.TempDir(), FileName)

	if err := WriteFile(path, info); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if diff := cmp.Diff(info, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"MathLibHelper"}, got.CppInfo().Libs); diff != "" {
		t.Errorf("CppInfo().Libs mismatch (-want +got):\n%s", diff)
	}
}

func TestPackageID(t *testing.T) {
	d := recipe.Default()
	static := New(d, recipe.Options{}, linuxRelease)
	shared := New(d, recipe.Options{Shared: true}, linuxRelease)
	again := New(d, recipe.Options{}, linuxRelease)

	if static.PackageID != again.PackageID {
		t.Errorf("package id not stable: %s vs %s", static.PackageID, again.PackageID)
	}
	if static.PackageID == shared.PackageID {
		t.Error("shared and static builds share a package id")
	}

	debug := linuxRelease
	debug.BuildType = "Debug"
	if New(d, recipe.Options{}, debug).PackageID == static.PackageID {
		t.Error("Debug and Release builds share a package id")
	}

	bumped := recipe.Default()
	bumped.Version = "0.2.0"
	if New(bumped, recipe.Options{}, linuxRelease).PackageID != static.PackageID {
		t.Error("package id depends on the recipe version")
	}
}

func TestNew_RecordsDeclaredSettingsOnly(t *testing.T) {
	d := recipe.Default()
	d.Settings = []string{recipe.SettingOS}

	info := New(d, recipe.Options{}, linuxRelease)

	want := map[string]string{recipe.SettingOS: "Linux"}
	if diff := cmp.Diff(want, info.Settings); diff != "" {
		t.Errorf("Settings mismatch (-want +got):\n%s", diff)
	}

	arm := linuxRelease
	arm.Arch = "armv8"
	if New(d, recipe.Options{}, arm).PackageID != info.PackageID {
		t.Error("package id depends on an undeclared setting")
	}
}
