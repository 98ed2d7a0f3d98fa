package checker

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	appErr "fujudge/pkg/errors"

	"gopkg.in/yaml.v3"
)

// Load resolves the checker called name inside dir.
//
// A built-in kind used as the name ("lines", "exact", ...) needs no file.
// Otherwise <dir>/<name>.yaml is read as a Descriptor, and failing that an
// executable <dir>/<name> is run as a special judge. Nothing found yields
// CheckerNotFound; an unusable descriptor yields CheckerLoadFailed.
func Load(dir, name string) (Checker, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, appErr.Newf(appErr.CheckerNotFound, "invalid checker name %q", name)
	}

	descPath := filepath.Join(dir, name+".yaml")
	data, err := os.ReadFile(descPath)
	switch {
	case err == nil:
		var desc Descriptor
		if err := yaml.Unmarshal(data, &desc); err != nil {
			return nil, appErr.Wrapf(err, appErr.CheckerLoadFailed, "parse checker descriptor failed: %s", descPath)
		}
		desc.Name, desc.Dir = name, dir
		return build(desc)
	case !errors.Is(err, fs.ErrNotExist):
		return nil, appErr.Wrapf(err, appErr.CheckerLoadFailed, "read checker descriptor failed: %s", descPath)
	}

	binPath := filepath.Join(dir, name)
	if info, err := os.Stat(binPath); err == nil && info.Mode().IsRegular() && info.Mode()&0111 != 0 {
		abs, err := filepath.Abs(binPath)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.CheckerLoadFailed, "resolve checker path failed")
		}
		return build(Descriptor{Kind: KindSpecial, Command: quote(abs), Name: name, Dir: dir})
	}

	if _, ok := lookup(name); ok && name != KindSpecial {
		return build(Descriptor{Kind: name, Name: name, Dir: dir})
	}

	return nil, appErr.Newf(appErr.CheckerNotFound, "checker %q not found in %s", name, dir).
		WithDetail("dir", dir).
		WithDetail("name", name)
}

func build(desc Descriptor) (Checker, error) {
	if desc.Kind == "" {
		return nil, appErr.Newf(appErr.CheckerLoadFailed, "checker %q has no kind", desc.Name)
	}
	factory, ok := lookup(desc.Kind)
	if !ok {
		return nil, appErr.Newf(appErr.CheckerLoadFailed, "unknown checker kind %q", desc.Kind).
			WithDetail("kinds", Kinds())
	}
	c, err := factory(desc)
	if err != nil {
		if appErr.Is(err, appErr.CheckerLoadFailed) {
			return nil, err
		}
		return nil, appErr.Wrapf(err, appErr.CheckerLoadFailed, "build checker %q failed: %v", desc.Name, err)
	}
	return c, nil
}

// quote protects a path for shlex splitting.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
