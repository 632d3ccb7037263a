package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/frederic-klein/mlhpkg/internal/cmake"
	"github.com/frederic-klein/mlhpkg/internal/downloader"
	"github.com/frederic-klein/mlhpkg/internal/generator"
	"github.com/frederic-klein/mlhpkg/internal/logger"
	"github.com/frederic-klein/mlhpkg/internal/manifest"
	"github.com/frederic-klein/mlhpkg/internal/packager"
	"github.com/frederic-klein/mlhpkg/internal/recipe"
	"github.com/frederic-klein/mlhpkg/internal/recipefile"
	"github.com/frederic-klein/mlhpkg/internal/resolver"
)

const defaultRecipeHint = "<source>/" + recipefile.DefaultName + ", else built-in"

// defineProjectInclude makes CMake read the generated buildinfo before the project.
const defineProjectInclude = "CMAKE_PROJECT_INCLUDE"

func createCreateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Resolve, configure, build and package the library",
		Args:  cobra.NoArgs,
		RunE:  runCreate,
	}
	addBuildFlags(cmd)
	addPackageFlags(cmd)
	return cmd
}

func createBuildCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Resolve requirements, then configure and build without packaging",
		Args:  cobra.NoArgs,
		RunE:  runBuild,
	}
	addBuildFlags(cmd)
	return cmd
}

func createPackageCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "package",
		Short: "Collect artifacts from an existing build tree into a package",
		Args:  cobra.NoArgs,
		RunE:  runPackage,
	}
	cmd.Flags().StringVarP(&sourceDir, "source", "S", ".", "Project source directory holding the exported files")
	cmd.Flags().StringVarP(&buildDir, "build-dir", "b", "build", "Build tree to collect from")
	addPackageFlags(cmd)
	addConfigFlags(cmd)
	return cmd
}

func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&optionArgs, "option", "o", nil, "Option override as key=value (repeatable)")
	cmd.Flags().StringArrayVarP(&settingArg, "setting", "s", nil, "Setting override as key=value (repeatable)")
}

func addBuildFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&sourceDir, "source", "S", ".", "Project source directory")
	cmd.Flags().StringVarP(&buildDir, "build-dir", "b", "build", "Out-of-source build directory")
	cmd.Flags().StringVar(&cacheDir, "cache", "", "Package cache directory (default: ~/.mlhpkg/cache)")
	cmd.Flags().StringVar(&remote, "remote", "", "Remote serving package archives for missing requirements")
	cmd.Flags().IntVarP(&workers, "workers", "w", 4, "Parallel download workers")
	cmd.Flags().StringVarP(&cmakeGenerator, "generator", "G", "", "CMake generator")
	cmd.Flags().StringVar(&cmakePath, "cmake", "cmake", "CMake executable")
	cmd.Flags().IntVarP(&jobs, "jobs", "j", 0, "Parallel build jobs (0: build tool default)")
	addConfigFlags(cmd)
}

func addPackageFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&packageDir, "package-dir", "p", "package", "Destination package directory")
}

// project is a descriptor with its options and settings resolved for one run.
type project struct {
	desc     *recipe.Descriptor
	opts     recipe.Options
	settings recipe.Settings
}

func loadDescriptor() (*recipe.Descriptor, error) {
	path := recipePath
	if path == "" {
		candidate := filepath.Join(sourceDir, recipefile.DefaultName)
		if _, err := os.Stat(candidate); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("checking %s: %w", candidate, err)
			}
			logger.Logger().Debugf("no %s, using built-in recipe", candidate)
			return recipe.Default(), nil
		}
		path = candidate
	}

	logger.Logger().Debugf("loading recipe %s", path)
	return recipefile.Load(path)
}

func loadProject() (*project, error) {
	desc, err := loadDescriptor()
	if err != nil {
		return nil, err
	}

	optOverrides, err := recipe.ParseAssignments(optionArgs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", recipe.ErrInvalidOption, err)
	}
	opts, err := desc.ResolveOptions(optOverrides)
	if err != nil {
		return nil, err
	}

	setOverrides, err := recipe.ParseAssignments(settingArg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", recipe.ErrInvalidSetting, err)
	}
	settings, err := recipe.DetectSettings().Apply(setOverrides)
	if err != nil {
		return nil, err
	}

	logger.Logger().Debugf("%s: options %v, settings %v", desc.Ref(), opts.Values(), settings.Values())
	return &project{desc: desc, opts: opts, settings: settings}, nil
}

// absDirs makes the directory flags absolute, since CMake runs inside the
// build tree.
func absDirs() error {
	for _, dir := range []*string{&sourceDir, &buildDir, &packageDir} {
		if *dir == "" {
			continue
		}
		abs, err := filepath.Abs(*dir)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", *dir, err)
		}
		*dir = abs
	}
	return nil
}

func packageCache() (string, error) {
	if cacheDir != "" {
		return cacheDir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(homeDir, ".mlhpkg", "cache"), nil
}

func resolveRequirements(cmd *cobra.Command, desc *recipe.Descriptor) ([]resolver.Dependency, error) {
	dir, err := packageCache()
	if err != nil {
		return nil, err
	}

	var dl *downloader.Downloader
	if remote != "" {
		dl = downloader.NewDownloader(workers, filepath.Join(dir, ".downloads"))
		if verbose {
			dl.WithProgress(cmd.ErrOrStderr())
		}
	}

	logger.Logger().Infof("resolving %d requirement(s) of %s", len(desc.Requires), desc.Ref())
	return resolver.NewResolver(dir, remote, dl).Resolve(cmd.Context(), desc.Requires)
}

// newSession resolves requirements, writes buildinfo.cmake into the build
// tree and wires CMake and the packager into a session.
func newSession(cmd *cobra.Command) (*recipe.Session, *project, error) {
	if err := absDirs(); err != nil {
		return nil, nil, err
	}
	p, err := loadProject()
	if err != nil {
		return nil, nil, err
	}

	deps, err := resolveRequirements(cmd, p.desc)
	if err != nil {
		return nil, nil, err
	}
	defs := make(map[string]string)
	if p.desc.HasGenerator(recipe.GeneratorCMake) {
		gens := make([]generator.Dependency, len(deps))
		for i, d := range deps {
			gens[i] = d.Generator()
		}
		buildInfo, err := generator.WriteCMakeFile(buildDir, gens)
		if err != nil {
			return nil, nil, err
		}
		defs[defineProjectInclude] = buildInfo
	}

	builder := cmake.New(cmake.ExecRunner{}, cmake.Config{
		Program:   cmakePath,
		SourceDir: sourceDir,
		BuildDir:  buildDir,
		Generator: cmakeGenerator,
		Jobs:      jobs,
	})

	session := recipe.NewSession(recipe.SessionConfig{
		Descriptor:  p.desc,
		Options:     p.opts,
		Settings:    p.settings,
		Builder:     builder,
		Collector:   newPackager(p.desc),
		Definitions: defs,
	})
	return session, p, nil
}

func runCreate(cmd *cobra.Command, args []string) error {
	if err := absDirs(); err != nil {
		return err
	}
	if packageDir == buildDir || packageDir == sourceDir {
		return fmt.Errorf("package dir %s must differ from the build and source dirs", packageDir)
	}

	session, p, err := newSession(cmd)
	if err != nil {
		return err
	}
	if err := session.Build(cmd.Context()); err != nil {
		return err
	}
	res, err := session.Package()
	if err != nil {
		return err
	}
	info, err := writeManifest(p)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Packaged %s (%s=%s) into %s: %d file(s), package id %s\n",
		p.desc.Ref(), recipe.OptionShared, recipe.FormatBool(p.opts.Shared), packageDir, len(res.Copied), info.PackageID)
	return nil
}

func runBuild(cmd *cobra.Command, args []string) error {
	session, p, err := newSession(cmd)
	if err != nil {
		return err
	}
	if err := session.Build(cmd.Context()); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Built %s (%s=%s) in %s\n",
		p.desc.Ref(), recipe.OptionShared, recipe.FormatBool(p.opts.Shared), buildDir)
	return nil
}

func runPackage(cmd *cobra.Command, args []string) error {
	if err := absDirs(); err != nil {
		return err
	}
	p, err := loadProject()
	if err != nil {
		return err
	}
	if _, err := os.Stat(buildDir); err != nil {
		return fmt.Errorf("build tree: %w", err)
	}

	res, err := newPackager(p.desc).Collect(p.desc.Layout)
	if err != nil {
		return &recipe.Error{Op: "package", Package: p.desc.Ref(), Err: err}
	}
	info, err := writeManifest(p)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Packaged %s into %s: %d file(s), package id %s\n",
		p.desc.Ref(), packageDir, len(res.Copied), info.PackageID)
	return nil
}

// newPackager collects from the build tree and from the recipe's exported
// sources, which is where header-only code lives.
func newPackager(desc *recipe.Descriptor) *packager.Packager {
	pk := packager.New(buildDir, packageDir)
	if len(desc.Exports) > 0 {
		pk.WithSources(sourceDir, desc.Exports)
	}
	return pk
}

func writeManifest(p *project) (*manifest.Info, error) {
	info := manifest.New(p.desc, p.opts, p.settings)
	if err := os.MkdirAll(packageDir, 0755); err != nil {
		return nil, fmt.Errorf("creating package dir: %w", err)
	}
	path := filepath.Join(packageDir, manifest.FileName)
	if err := manifest.WriteFile(path, info); err != nil {
		return nil, err
	}
	logger.Logger().Infof("wrote %s", path)
	return info, nil
}
