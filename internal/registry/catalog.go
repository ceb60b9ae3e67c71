package registry

import (
	"github.com/julianstephens/structdb/model"
	"github.com/julianstephens/structdb/schema"
)

// Catalog records live in segments of the reserved schema type. Each one
// binds a type id to a struct name, its structural hash, and the marshaled
// descriptor: {typeID u32, hash u64, name string, descriptor bytes}.

func encodeCatalogRecord(id model.TypeID, hash uint64, desc *schema.Descriptor) []byte {
	db := schema.MarshalDescriptor(desc)
	var buf []byte
	buf = schema.AppendU32(buf, uint32(id))
	buf = schema.AppendU64(buf, hash)
	buf = schema.AppendString(buf, desc.Name)
	buf = schema.AppendBytes(buf, db)
	return buf
}

type catalogRecord struct {
	id   model.TypeID
	hash uint64
	name string
	desc *schema.Descriptor
}

func decodeCatalogRecord(data []byte) (catalogRecord, error) {
	var cr catalogRecord
	r := schema.NewReader(data)
	cr.id = model.TypeID(r.U32())
	cr.hash = r.U64()
	cr.name = r.String()
	db := r.Bytes()
	if err := r.Done(); err != nil {
		return cr, err
	}
	desc, err := schema.UnmarshalDescriptor(db)
	if err != nil {
		return cr, err
	}
	cr.desc = desc
	return cr, nil
}
