package structdb

import (
	"fmt"

	"github.com/julianstephens/structdb/model"
	"github.com/julianstephens/structdb/schema"
)

// ScanGeneric streams every committed record of the named type to fn as a
// field map, decoding from the persisted descriptor alone. It works for
// types no code in this process has defined, which is what makes it usable
// from tooling; the maps follow the schema package's generic forms (int64,
// float64, string, []byte, []any, map[string]any, nil for an empty option).
// The scan runs against a captured view, so a concurrent commit is either
// fully visible or not at all. An error from fn stops the scan and is
// returned unchanged.
func (s *Store) ScanGeneric(name string, fn func(rid model.Rid, fields map[string]any) error) error {
	if err := s.guard("scan"); err != nil {
		return err
	}

	var desc *schema.Descriptor
	var id model.TypeID
	for _, in := range s.reg.Catalog() {
		if in.Name == name {
			desc, id = in.Desc, in.ID
			break
		}
	}
	if desc == nil {
		return wrapStoreErr("scan", ErrStructNotDefined, s.path, fmt.Errorf("struct %q not in catalog", name))
	}

	snap, _, err := s.txm.Capture()
	if err != nil {
		return translate("scan", s.path, err)
	}
	defer snap.Release()

	err = snap.ScanType(id, func(rid model.Rid, payload []byte) error {
		fields, derr := schema.DecodeGeneric(desc, payload)
		if derr != nil {
			return derr
		}
		return fn(rid, fields)
	})
	if err != nil {
		return translate("scan", s.path, err)
	}
	return nil
}
