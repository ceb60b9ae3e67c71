package schema_test

import (
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/julianstephens/structdb/schema"
)

func TestStructuralHashDeterministic(t *testing.T) {
	a := schema.StructuralHash(personDesc())
	b := schema.StructuralHash(personDesc())
	assert.Equal(t, a, b)
}

func TestStructuralHashIgnoresNames(t *testing.T) {
	base := personDesc()
	h := schema.StructuralHash(base)

	// Struct name does not participate.
	renamed := personDesc()
	renamed.Name = "Employee"
	assert.Equal(t, h, schema.StructuralHash(renamed))

	// Index names do not participate.
	reindexed := personDesc()
	reindexed.Fields[0].Index.Name = "by_name"
	assert.Equal(t, h, schema.StructuralHash(reindexed))
}

func TestStructuralHashSensitivity(t *testing.T) {
	base := schema.StructuralHash(personDesc())

	mutations := []struct {
		name   string
		mutate func(*schema.Descriptor)
	}{
		{"FieldRenamed", func(d *schema.Descriptor) { d.Fields[2].Name = "years" }},
		{"FieldRetyped", func(d *schema.Descriptor) { d.Fields[2].Type = schema.I32() }},
		{"FieldDropped", func(d *schema.Descriptor) { d.Fields = d.Fields[:len(d.Fields)-1] }},
		{"FieldsReordered", func(d *schema.Descriptor) {
			d.Fields[0], d.Fields[2] = d.Fields[2], d.Fields[0]
		}},
		{"IndexModeChanged", func(d *schema.Descriptor) { d.Fields[0].Index.Mode = schema.IndexExclusive }},
		{"IndexDropped", func(d *schema.Descriptor) { d.Fields[0].Index = nil }},
		{"SeqElemChanged", func(d *schema.Descriptor) { d.Fields[3].Type = schema.Seq(schema.Blob()) }},
		{"RefTargetChanged", func(d *schema.Descriptor) { d.Fields[6].Type = schema.Ref("Company") }},
		{"EmbeddedFieldChanged", func(d *schema.Descriptor) {
			d.Fields[5].Type.Nested.Fields[1].Type = schema.U64()
		}},
	}

	for _, m := range mutations {
		t.Run(m.name, func(t *testing.T) {
			d := personDesc()
			m.mutate(d)
			assert.NotEqual(t, base, schema.StructuralHash(d))
		})
	}
}
