package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeFillsDefaults(t *testing.T) {
	def := Definition{Name: "User"}
	require.NoError(t, def.Normalize(NamingStrategy{}))
	assert.Equal(t, "users", def.Table)
	assert.Equal(t, "id", def.PrimaryKey)
}

func TestNormalizeRequiresName(t *testing.T) {
	def := Definition{}
	assert.Error(t, def.Normalize(NamingStrategy{}))
}

func TestValidateRelationshipConfigs(t *testing.T) {
	tests := []struct {
		name    string
		cfg     RelationshipConfig
		wantErr bool
	}{
		{"belongs_to ok", RelationshipConfig{Kind: BelongsTo, ForeignModel: "User"}, false},
		{"belongs_to missing model", RelationshipConfig{Kind: BelongsTo}, true},
		{"morph_to needs no model", RelationshipConfig{Kind: MorphTo}, false},
		{"morph_one missing keys", RelationshipConfig{Kind: MorphOne, ForeignModel: "Toy"}, true},
		{"morph_one ok", RelationshipConfig{Kind: MorphOne, ForeignModel: "Toy", TypeKey: "owner_type", IDKey: "owner_id"}, false},
		{"through zero glue", RelationshipConfig{Kind: HasManyThrough}, true},
		{"through ok", RelationshipConfig{Kind: HasManyThrough, Glue: []RelationshipConfig{
			{Kind: HasMany, ForeignModel: "Post"},
			{Kind: HasMany, ForeignModel: "Comment"},
		}}, false},
		{"unknown kind", RelationshipConfig{Kind: "sideways"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadYAML(t *testing.T) {
	doc := []byte(`
models:
  - name: User
    relationships:
      posts:
        kind: has_many
        model: Post
      roles:
        kind: many_to_many
        model: Role
  - name: Post
    table: articles
    relationships:
      author:
        kind: belongs_to
        model: User
`)
	defs, err := LoadYAML(doc)
	require.NoError(t, err)
	require.Len(t, defs, 2)

	assert.Equal(t, "User", defs[0].Name)
	require.Contains(t, defs[0].Relationships, "posts")
	assert.Equal(t, HasMany, defs[0].Relationships["posts"].Kind)
	assert.Equal(t, "Post", defs[0].Relationships["posts"].ForeignModel)

	assert.Equal(t, "articles", defs[1].Table)
	assert.Equal(t, BelongsTo, defs[1].Relationships["author"].Kind)
}

func TestLoadYAMLRejectsEmpty(t *testing.T) {
	_, err := LoadYAML([]byte("models: []"))
	assert.Error(t, err)

	_, err = LoadYAML([]byte("models: ["))
	assert.Error(t, err)
}
