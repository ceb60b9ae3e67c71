package schema

import (
	"encoding/binary"
	"hash/fnv"
	"io"
)

// StructuralHash fingerprints the shape of a descriptor: the ordered field
// list with each field's name, full value type tree, and index mode. The
// struct name, index names, and the assigned type id do not participate, so
// renaming an index keeps the hash stable while any layout change breaks it.
func StructuralHash(d *Descriptor) uint64 {
	h := fnv.New64a()
	hashFields(h, d)
	return h.Sum64()
}

func hashFields(w io.Writer, d *Descriptor) {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(d.Fields)))
	w.Write(n[:])
	for i := range d.Fields {
		f := &d.Fields[i]
		hashString(w, f.Name)
		hashValueType(w, &f.Type)
		mode := uint8(0)
		if f.Index != nil {
			mode = uint8(f.Index.Mode)
		}
		w.Write([]byte{mode})
	}
}

func hashValueType(w io.Writer, vt *ValueType) {
	w.Write([]byte{uint8(vt.Kind)})
	switch vt.Kind {
	case KindRef:
		hashString(w, vt.Target)
	case KindEmbedded:
		hashString(w, vt.Target)
		hashFields(w, vt.Nested)
	case KindOption, KindSeq:
		hashValueType(w, vt.Elem)
	}
}

func hashString(w io.Writer, s string) {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(s)))
	w.Write(n[:])
	io.WriteString(w, s)
}
