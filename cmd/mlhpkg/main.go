package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/frederic-klein/mlhpkg/internal/logger"
)

var (
	recipePath     string
	sourceDir      string
	buildDir       string
	packageDir     string
	optionArgs     []string
	settingArg     []string
	cacheDir       string
	remote         string
	cmakeGenerator string
	cmakePath      string
	jobs           int
	workers        int
	infoFormat     string
	force          bool
	verbose        bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Registering the flags resets every
// flag variable to its default.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mlhpkg",
		Short: "Build, package and export the MathLibHelper native library",
		Long: "mlhpkg drives a recipe through configure, build and package: it resolves the pinned " +
			"requirements, runs CMake with BUILD_SHARED_LIBS taken from the shared option, and " +
			"collects headers and libraries into a package tree with a manifest for consumers.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			z, err := logger.New(verbose)
			if err != nil {
				return err
			}
			logger.Init(z)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&recipePath, "recipe", "r", "", "Recipe file (default: "+defaultRecipeHint+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(
		createCreateCommand(),
		createBuildCommand(),
		createPackageCommand(),
		createInfoCommand(),
		createExportCommand(),
		createNewCommand(),
	)
	return rootCmd
}
