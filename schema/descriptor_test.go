package schema_test

import (
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/julianstephens/structdb/schema"
)

func personDesc() *schema.Descriptor {
	return &schema.Descriptor{
		Name: "Person",
		Fields: []schema.FieldDescriptor{
			{Name: "name", Type: schema.Str(), Index: &schema.IndexDecl{Mode: schema.IndexCluster, Name: "person_name"}},
			{Name: "email", Type: schema.Str(), Index: &schema.IndexDecl{Mode: schema.IndexExclusive, Name: "person_email"}},
			{Name: "age", Type: schema.I64()},
			{Name: "tags", Type: schema.Seq(schema.Str())},
			{Name: "nick", Type: schema.Option(schema.Str())},
			{Name: "home", Type: schema.Embedded("Address", &schema.Descriptor{
				Name: "Address",
				Fields: []schema.FieldDescriptor{
					{Name: "city", Type: schema.Str()},
					{Name: "zip", Type: schema.U32()},
				},
			})},
			{Name: "friend", Type: schema.Ref("Person")},
		},
	}
}

func TestDescriptorValidate(t *testing.T) {
	assert.NoError(t, personDesc().Validate())
}

func TestDescriptorValidateRejects(t *testing.T) {
	testCases := []struct {
		name string
		desc *schema.Descriptor
	}{
		{
			name: "EmptyStructName",
			desc: &schema.Descriptor{Fields: []schema.FieldDescriptor{{Name: "a", Type: schema.I64()}}},
		},
		{
			name: "EmptyFieldName",
			desc: &schema.Descriptor{Name: "T", Fields: []schema.FieldDescriptor{{Type: schema.I64()}}},
		},
		{
			name: "DuplicateFieldName",
			desc: &schema.Descriptor{Name: "T", Fields: []schema.FieldDescriptor{
				{Name: "a", Type: schema.I64()},
				{Name: "a", Type: schema.Str()},
			}},
		},
		{
			name: "IndexOnSequence",
			desc: &schema.Descriptor{Name: "T", Fields: []schema.FieldDescriptor{
				{Name: "a", Type: schema.Seq(schema.Str()), Index: &schema.IndexDecl{Mode: schema.IndexCluster, Name: "x"}},
			}},
		},
		{
			name: "IndexOnOption",
			desc: &schema.Descriptor{Name: "T", Fields: []schema.FieldDescriptor{
				{Name: "a", Type: schema.Option(schema.I64()), Index: &schema.IndexDecl{Mode: schema.IndexExclusive, Name: "x"}},
			}},
		},
		{
			name: "IndexWithoutName",
			desc: &schema.Descriptor{Name: "T", Fields: []schema.FieldDescriptor{
				{Name: "a", Type: schema.I64(), Index: &schema.IndexDecl{Mode: schema.IndexCluster}},
			}},
		},
		{
			name: "DuplicateIndexName",
			desc: &schema.Descriptor{Name: "T", Fields: []schema.FieldDescriptor{
				{Name: "a", Type: schema.I64(), Index: &schema.IndexDecl{Mode: schema.IndexCluster, Name: "x"}},
				{Name: "b", Type: schema.I64(), Index: &schema.IndexDecl{Mode: schema.IndexCluster, Name: "x"}},
			}},
		},
		{
			name: "RefWithoutTarget",
			desc: &schema.Descriptor{Name: "T", Fields: []schema.FieldDescriptor{
				{Name: "a", Type: schema.ValueType{Kind: schema.KindRef}},
			}},
		},
		{
			name: "EmbeddedWithoutNested",
			desc: &schema.Descriptor{Name: "T", Fields: []schema.FieldDescriptor{
				{Name: "a", Type: schema.ValueType{Kind: schema.KindEmbedded, Target: "X"}},
			}},
		},
		{
			name: "SeqWithoutElem",
			desc: &schema.Descriptor{Name: "T", Fields: []schema.FieldDescriptor{
				{Name: "a", Type: schema.ValueType{Kind: schema.KindSeq}},
			}},
		},
		{
			name: "OptionOfOption",
			desc: &schema.Descriptor{Name: "T", Fields: []schema.FieldDescriptor{
				{Name: "a", Type: schema.Option(schema.Option(schema.I64()))},
			}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.desc.Validate()
			assert.Error(t, err)
			assert.IsError(t, err, schema.ErrInvalidDescriptor)
		})
	}
}

func TestDescriptorValidateNotIndexable(t *testing.T) {
	d := &schema.Descriptor{Name: "T", Fields: []schema.FieldDescriptor{
		{Name: "home", Type: schema.Embedded("A", &schema.Descriptor{
			Name:   "A",
			Fields: []schema.FieldDescriptor{{Name: "x", Type: schema.I8()}},
		}), Index: &schema.IndexDecl{Mode: schema.IndexCluster, Name: "bad"}},
	}}
	assert.IsError(t, d.Validate(), schema.ErrNotIndexable)
}

func TestDescriptorFieldLookup(t *testing.T) {
	d := personDesc()
	f, pos, ok := d.Field("age")
	assert.True(t, ok)
	assert.Equal(t, 2, pos)
	assert.Equal(t, schema.KindI64, f.Type.Kind)

	_, _, ok = d.Field("missing")
	assert.False(t, ok)
}

func TestDescriptorIndexes(t *testing.T) {
	idx := personDesc().Indexes()
	assert.Equal(t, 2, len(idx))
	assert.Equal(t, "person_name", idx[0].Field.Index.Name)
	assert.Equal(t, 0, idx[0].Pos)
	assert.Equal(t, "person_email", idx[1].Field.Index.Name)
	assert.Equal(t, schema.IndexExclusive, idx[1].Field.Index.Mode)
}
