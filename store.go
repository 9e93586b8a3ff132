package quilt

import (
	"context"

	"github.com/quiltdb/quilt/emitter"
)

// Values is a record's property map.
type Values = emitter.Values

// Collection is the lookup surface one record type's table must expose.
// Find and FindBy return nil values (not an error) when nothing matches.
type Collection interface {
	Find(ctx context.Context, primaryKey interface{}) (Values, error)
	FindBy(ctx context.Context, property string, value interface{}) (Values, error)
	FindManyBy(ctx context.Context, property string, values []interface{}) ([]Values, error)
}

// Writer is the optional write surface of a collection. Record.Save,
// Record.Delete and Model.Truncate require the model's collection to
// implement it.
type Writer interface {
	Put(ctx context.Context, primaryKey interface{}, values Values) error
	Delete(ctx context.Context, primaryKey interface{}) error
	Truncate(ctx context.Context) error
}

// Store hands out collections per table. The persistent store itself is an
// external collaborator; quilt only depends on this contract.
type Store interface {
	Collection(table string) Collection
}
