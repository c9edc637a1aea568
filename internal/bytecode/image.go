package bytecode

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"kiln/internal/isa"
	"kiln/internal/method"
)

// imageSchemaVersion invalidates images whose layout predates the reader.
const imageSchemaVersion uint16 = 1

// Image is the on-disk container of method bodies an ahead-of-time build
// compiles from.
type Image struct {
	Schema  uint16
	Name    string
	Methods []MethodRecord
}

// MethodRecord is one method as stored in an image.
type MethodRecord struct {
	Name              string
	Class             string
	Index             uint32
	Flags             uint32
	Code              []byte
	Registers         int
	Intrinsic         string
	Resolved          bool
	DeadReferenceSafe bool
}

// LoadImage reads and validates an image file.
func LoadImage(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var im Image
	if err := msgpack.NewDecoder(f).Decode(&im); err != nil {
		return nil, fmt.Errorf("image %s: %w", path, err)
	}
	if im.Schema != imageSchemaVersion {
		return nil, fmt.Errorf("image %s: schema %d, want %d", path, im.Schema, imageSchemaVersion)
	}
	return &im, nil
}

// Save writes the image atomically.
func (im *Image) Save(path string) error {
	im.Schema = imageSchemaVersion
	f, err := os.CreateTemp(filepath.Dir(path), "tmp-image-*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	if err := msgpack.NewEncoder(f).Encode(im); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}

// Units materializes compilation units for the target.
func (im *Image) Units(set isa.Set) []*method.Unit {
	out := make([]*method.Unit, 0, len(im.Methods))
	for i := range im.Methods {
		m := &im.Methods[i]
		out = append(out, &method.Unit{
			Name:              m.Name,
			Class:             m.Class,
			Index:             m.Index,
			Flags:             method.AccessFlags(m.Flags),
			ISA:               set,
			Code:              m.Code,
			CodeUnits:         len(m.Code),
			Registers:         m.Registers,
			Intrinsic:         m.Intrinsic,
			Resolved:          m.Resolved,
			DeadReferenceSafe: m.DeadReferenceSafe,
		})
	}
	return out
}
