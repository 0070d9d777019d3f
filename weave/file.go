package weave

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ModuleImageExt is the file extension of binary module images.
const ModuleImageExt = ".zwm"

// BackupExt is appended to a module path while it is rewritten in place.
const BackupExt = ".bkp"

// FileExists reports whether the named file exists.
func FileExists(filename string) bool {
	if _, err := os.Stat(filename); err != nil {
		return !os.IsNotExist(err)
	}
	return true
}

func isModulePath(path string) bool {
	return isSourcePath(path) || strings.EqualFold(filepath.Ext(path), ModuleImageExt)
}

// expandModulePaths resolves directories to the module files they contain, keeping explicit file arguments as is.
func expandModulePaths(inputs []string) ([]string, error) {
	var paths []string
	for _, input := range inputs {
		info, err := os.Stat(input)
		if err != nil {
			return nil, err
		} else if !info.IsDir() {
			paths = append(paths, input)
			continue
		}
		var found []string
		err = filepath.WalkDir(input, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			} else if !d.IsDir() && isModulePath(path) {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		slices.Sort(found)
		paths = append(paths, found...)
	}
	return slices.Compact(paths), nil
}

func replaceFile(source, destination string) error {
	if _, err := os.Stat(destination); err == nil {
		if err = os.Remove(destination); err != nil {
			return err
		}
	}

	// Rename the source to the destination (requires same filesystem)
	return os.Rename(source, destination)
}

// CopyFile copies src to dst. If src is a symlink, it recreates the symlink at dst pointing to the same target.
// Otherwise, it copies the file’s contents (using os.Create’s default mode).
func CopyFile(src, dst string) (err error) {
	if info, err := os.Lstat(src); err != nil {
		return err
	} else if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(target, dst)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst) // uses default file mode (0666 & umask)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

// saveModuleReplacing writes the module next to path and renames it over path, so a failed write never leaves a
// truncated module behind.
func saveModuleReplacing(path string, mod *Module) error {
	tmp := path + ".tmp" + filepath.Ext(path) // keep the extension so the format matches
	if err := SaveModuleFile(tmp, mod); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return replaceFile(tmp, path)
}
