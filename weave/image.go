package weave

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// imageMagic prefixes every binary module image.
const imageMagic = "ZWMOD1"

// ErrNotModuleImage indicates data without the module image header.
var ErrNotModuleImage = errors.New("not a module image")

// WriteModuleImage writes the module as a zstd compressed msgpack image.
func WriteModuleImage(w io.Writer, mod *Module) error {
	encoded, err := msgpack.Marshal(mod)
	if err != nil {
		return fmt.Errorf("encode module %s: %w", mod.Name, err)
	}
	out := append([]byte(imageMagic), ZstdCompress(nil, encoded)...)
	_, err = w.Write(out)
	return err
}

// ReadModuleImage reads a module written by WriteModuleImage. Annotations are left unresolved.
func ReadModuleImage(r io.Reader) (*Module, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	payload, ok := bytes.CutPrefix(data, []byte(imageMagic))
	if !ok {
		return nil, ErrNotModuleImage
	}
	decoded, err := ZstdDecompress(nil, payload)
	if err != nil {
		return nil, fmt.Errorf("decompress module image: %w", err)
	}
	var mod Module
	if err := msgpack.Unmarshal(decoded, &mod); err != nil {
		return nil, fmt.Errorf("decode module image: %w", err)
	}
	return &mod, nil
}

func isSourcePath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// LoadModuleFile reads a module from disk, as YAML source when the extension is .yaml or .yml and as a binary image
// otherwise.
func LoadModuleFile(path string) (*Module, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var mod *Module
	if isSourcePath(path) {
		mod, err = LoadModuleSource(f)
	} else {
		mod, err = ReadModuleImage(f)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return mod, nil
}

// SaveModuleFile writes a module to disk in the format selected by the path extension.
func SaveModuleFile(path string, mod *Module) error {
	var buf bytes.Buffer
	var err error
	if isSourcePath(path) {
		err = EncodeModuleSource(&buf, mod)
	} else {
		err = WriteModuleImage(&buf, mod)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}
