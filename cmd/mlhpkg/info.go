package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/frederic-klein/mlhpkg/internal/archive"
	"github.com/frederic-klein/mlhpkg/internal/logger"
	"github.com/frederic-klein/mlhpkg/internal/manifest"
	"github.com/frederic-klein/mlhpkg/internal/recipe"
	"github.com/frederic-klein/mlhpkg/internal/recipefile"
)

var infoPackageDir string

func createInfoCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Describe how consumers link against the library",
		Long: "info prints the linkage metadata of the recipe, or of an already packaged " +
			"directory when --package-dir is given.",
		Args: cobra.NoArgs,
		RunE: runInfo,
	}
	cmd.Flags().StringVarP(&infoPackageDir, "package-dir", "p", "", "Describe this package directory instead of the recipe")
	cmd.Flags().StringVar(&infoFormat, "format", "text", "Output format: text or json")
	return cmd
}

func createExportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [archive]",
		Short: "Archive a package directory as tar.xz or tar.gz",
		Long: "export packs a package directory, manifest included, into an archive a remote can " +
			"serve. The format follows the archive extension; the default name is <name>-<version>.tar.xz.",
		Args: cobra.MaximumNArgs(1),
		RunE: runExport,
	}
	addPackageFlags(cmd)
	return cmd
}

func createNewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Write the default recipe file",
		Args:  cobra.NoArgs,
		RunE:  runNew,
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing recipe")
	return cmd
}

// linkage is the describe-linkage view printed by info.
type linkage struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	PackageID   string   `json:"package_id,omitempty"`
	Libs        []string `json:"libs"`
	IncludeDirs []string `json:"include_dirs"`
	LibDirs     []string `json:"lib_dirs"`
	BinDirs     []string `json:"bin_dirs"`
}

func newLinkage(name, version, id string, ci recipe.CppInfo) linkage {
	return linkage{
		Name:        name,
		Version:     version,
		PackageID:   id,
		Libs:        ci.Libs,
		IncludeDirs: ci.IncludeDirs,
		LibDirs:     ci.LibDirs,
		BinDirs:     ci.BinDirs,
	}
}

func runInfo(cmd *cobra.Command, args []string) error {
	var l linkage
	if infoPackageDir != "" {
		info, err := manifest.ReadFile(filepath.Join(infoPackageDir, manifest.FileName))
		if err != nil {
			return err
		}
		l = newLinkage(info.Name, info.Version, info.PackageID, info.CppInfo())
	} else {
		desc, err := loadDescriptor()
		if err != nil {
			return err
		}
		l = newLinkage(desc.Name, desc.Version, "", desc.PackageInfo())
	}

	switch infoFormat {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(l)
	case "text":
		return writeLinkageText(cmd.OutOrStdout(), l)
	default:
		return fmt.Errorf("unknown format %q, want text or json", infoFormat)
	}
}

func writeLinkageText(w io.Writer, l linkage) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s/%s\n", l.Name, l.Version)
	if l.PackageID != "" {
		fmt.Fprintf(&b, "    package_id: %s\n", l.PackageID)
	}
	fmt.Fprintf(&b, "    libs: %s\n", strings.Join(l.Libs, " "))
	fmt.Fprintf(&b, "    include_dirs: %s\n", strings.Join(l.IncludeDirs, " "))
	fmt.Fprintf(&b, "    lib_dirs: %s\n", strings.Join(l.LibDirs, " "))
	fmt.Fprintf(&b, "    bin_dirs: %s\n", strings.Join(l.BinDirs, " "))
	_, err := io.WriteString(w, b.String())
	return err
}

func runExport(cmd *cobra.Command, args []string) error {
	info, err := manifest.ReadFile(filepath.Join(packageDir, manifest.FileName))
	if err != nil {
		return fmt.Errorf("%s is not a package: %w", packageDir, err)
	}

	dest := fmt.Sprintf("%s-%s.%s", info.Name, info.Version, archive.FormatTarXZ)
	if len(args) == 1 {
		dest = args[0]
	}

	logger.Logger().Infof("exporting %s into %s", packageDir, dest)
	if err := archive.PackFile(packageDir, dest); err != nil {
		return fmt.Errorf("exporting %s/%s: %w", info.Name, info.Version, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Exported %s/%s (package id %s) to %s\n", info.Name, info.Version, info.PackageID, dest)
	return nil
}

func runNew(cmd *cobra.Command, args []string) error {
	path := recipePath
	if path == "" {
		path = recipefile.DefaultName
	}
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists, use --force to overwrite", path)
	}

	if err := recipefile.Save(path, recipe.Default()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}
