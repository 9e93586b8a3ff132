// Package schema holds the declarative side of quilt: model definitions,
// relationship configurations and the naming conventions used to fill in
// the keys a configuration leaves out.
package schema

import (
	"fmt"
)

// RelationshipKind relationship kind
type RelationshipKind string

const (
	// BelongsTo host holds the foreign record's primary key
	BelongsTo RelationshipKind = "belongs_to"
	// HasOne a single foreign record holds the host's primary key
	HasOne RelationshipKind = "has_one"
	// HasMany foreign records hold the host's primary key
	HasMany RelationshipKind = "has_many"
	// MorphTo host holds a type/id pair naming the foreign record
	MorphTo RelationshipKind = "morph_to"
	// MorphOne a single foreign record holds a type/id pair naming the host
	MorphOne RelationshipKind = "morph_one"
	// MorphMany foreign records hold a type/id pair naming the host
	MorphMany RelationshipKind = "morph_many"
	// HasManyThrough multi-hop chain of intermediary relationships
	HasManyThrough RelationshipKind = "has_many_through"
	// ManyToMany two-hop chain through a join table
	ManyToMany RelationshipKind = "many_to_many"
)

// RelationshipConfig is the inert declarative tuple describing one
// relationship. It is created at schema-definition time and never mutated;
// empty key fields are filled in from the NamingStrategy when the
// relationship boots.
type RelationshipConfig struct {
	Kind         RelationshipKind     `yaml:"kind"`
	ForeignModel string               `yaml:"model,omitempty"`
	LocalKey     string               `yaml:"local_key,omitempty"`
	ForeignKey   string               `yaml:"foreign_key,omitempty"`
	OwnerKey     string               `yaml:"owner_key,omitempty"`
	TypeKey      string               `yaml:"type_key,omitempty"`
	IDKey        string               `yaml:"id_key,omitempty"`
	JoinTable    string               `yaml:"join_table,omitempty"`
	MorphClass   string               `yaml:"morph_class,omitempty"`
	Glue         []RelationshipConfig `yaml:"through,omitempty"`
}

// Validate report configuration errors that can be caught before boot.
func (c *RelationshipConfig) Validate() error {
	switch c.Kind {
	case BelongsTo, HasOne, HasMany:
		if c.ForeignModel == "" {
			return fmt.Errorf("%s relationship requires a foreign model", c.Kind)
		}
	case MorphOne, MorphMany:
		if c.ForeignModel == "" {
			return fmt.Errorf("%s relationship requires a foreign model", c.Kind)
		}
		if c.TypeKey == "" || c.IDKey == "" {
			return fmt.Errorf("%s relationship requires type_key and id_key", c.Kind)
		}
	case MorphTo:
		// foreign model is dynamic
	case HasManyThrough:
		if len(c.Glue) == 0 {
			return fmt.Errorf("%s relationship requires at least one glue step", c.Kind)
		}
		for i := range c.Glue {
			if err := c.Glue[i].Validate(); err != nil {
				return fmt.Errorf("glue step %d: %w", i, err)
			}
		}
	case ManyToMany:
		if c.ForeignModel == "" {
			return fmt.Errorf("%s relationship requires a foreign model", c.Kind)
		}
	default:
		return fmt.Errorf("unknown relationship kind %q", c.Kind)
	}
	return nil
}
