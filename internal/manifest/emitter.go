package manifest

import (
	"fmt"
	"io"

	"github.com/frederic-klein/mlhpkg/internal/recipe"
)

// Emitter writes manifests in the sectioned text format.
type Emitter struct {
	w io.Writer
}

// NewEmitter creates a new manifest emitter.
func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{w: w}
}

// Emit writes info. Keyed sections are sorted; list sections keep their order.
func (e *Emitter) Emit(info *Info) error {
	pkg := map[string]string{
		"name":       info.Name,
		"version":    info.Version,
		"package_id": info.PackageID,
	}
	if err := e.emitKeyed("package", pkg); err != nil {
		return err
	}
	if err := e.emitKeyed("settings", info.Settings); err != nil {
		return err
	}
	if err := e.emitKeyed("options", info.Options); err != nil {
		return err
	}
	if err := e.emitList("requires", info.Requires); err != nil {
		return err
	}
	return e.emitList("libs", info.Libs)
}

func (e *Emitter) emitKeyed(section string, values map[string]string) error {
	if err := e.emitHeader(section); err != nil {
		return err
	}
	for _, k := range recipe.SortedKeys(values) {
		if _, err := fmt.Fprintf(e.w, "    %s=%s\n", k, values[k]); err != nil {
			return err
		}
	}
	_, err := fmt.Fprint(e.w, "\n")
	return err
}

func (e *Emitter) emitList(section string, items []string) error {
	if err := e.emitHeader(section); err != nil {
		return err
	}
	for _, item := range items {
		if _, err := fmt.Fprintf(e.w, "    %s\n", item); err != nil {
			return err
		}
	}
	_, err := fmt.Fprint(e.w, "\n")
	return err
}

func (e *Emitter) emitHeader(section string) error {
	_, err := fmt.Fprintf(e.w, "[%s]\n", section)
	return err
}
