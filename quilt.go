// Package quilt is the relationship-resolution and change-propagation engine
// of a client-side reactive data layer. Records live in a table-oriented
// store; declared relationships between record types are resolved lazily,
// cached per host instance, and kept consistent as records are saved,
// deleted or truncated anywhere in the process.
package quilt

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/quiltdb/quilt/bus"
	"github.com/quiltdb/quilt/logger"
	"github.com/quiltdb/quilt/schema"
)

// Database owns the schema registry, the event bus and the store handle.
// Models are registered once at boot time; their relationships bind to
// concrete models lazily or through an explicit Boot call.
type Database struct {
	Config *Config

	log   logger.Interface
	bus   *bus.Bus
	namer schema.Namer

	mu     sync.RWMutex
	models map[string]*Model
	tables map[string]*Model
}

// Model is one registered record type.
type Model struct {
	Name       string
	Table      string
	PrimaryKey string

	db        *Database
	relations map[string]Relation
}

func defaultLogWriter() logger.Writer {
	return log.New(os.Stdout, "\r\n", log.LstdFlags)
}

// Open initializes a database from config. The bus is created here and torn
// down by Close.
func Open(config *Config) (*Database, error) {
	if config == nil {
		config = &Config{}
	}
	if err := config.applyDefaults(); err != nil {
		return nil, err
	}

	db := &Database{
		Config: config,
		log:    config.Logger,
		namer:  config.NamingStrategy,
		models: map[string]*Model{},
		tables: map[string]*Model{},
	}
	db.bus = bus.New(config.Logger)
	if config.Transport != nil {
		db.bus.AttachTransport(config.Transport)
	}
	return db, nil
}

// Register declares record types. Relationship objects are constructed here;
// a through relationship with zero glue steps fails immediately. Binding to
// foreign models happens at Boot (or lazily on first Prepare).
func (db *Database) Register(defs ...schema.Definition) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for i := range defs {
		def := defs[i]
		if err := def.Normalize(db.namer); err != nil {
			return err
		}
		if _, dup := db.models[def.Name]; dup {
			return fmt.Errorf("model %s already registered", def.Name)
		}

		model := &Model{
			Name:       def.Name,
			Table:      def.Table,
			PrimaryKey: def.PrimaryKey,
			db:         db,
			relations:  map[string]Relation{},
		}
		for name, cfg := range def.Relationships {
			rel, err := newRelation(model, name, cfg)
			if err != nil {
				return err
			}
			model.relations[name] = rel
		}

		db.models[def.Name] = model
		db.tables[def.Table] = model
	}
	return nil
}

// RegisterYAML declares record types from a YAML schema document.
func (db *Database) RegisterYAML(data []byte) error {
	defs, err := schema.LoadYAML(data)
	if err != nil {
		return err
	}
	return db.Register(defs...)
}

// Boot eagerly binds every registered relationship to its foreign models.
// Prepare boots lazily, so calling Boot is optional but surfaces missing
// models up front.
func (db *Database) Boot() error {
	db.mu.RLock()
	models := make([]*Model, 0, len(db.models))
	for _, m := range db.models {
		models = append(models, m)
	}
	db.mu.RUnlock()

	for _, m := range models {
		for name, rel := range m.relations {
			if err := rel.Boot(db); err != nil {
				return fmt.Errorf("boot %s.%s: %w", m.Name, name, err)
			}
		}
	}
	db.log.Info(context.Background(), "booted %d models", len(models))
	return nil
}

// Model returns a registered model by name.
func (db *Database) Model(name string) (*Model, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if m, ok := db.models[name]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrMissingModel, name)
}

// ModelByTable returns a registered model by its backing table name.
func (db *Database) ModelByTable(table string) (*Model, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if m, ok := db.tables[table]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("%w: table %s", ErrMissingModel, table)
}

// Bus returns the database's event bus.
func (db *Database) Bus() *bus.Bus {
	return db.bus
}

// Logger returns the database's logger.
func (db *Database) Logger() logger.Interface {
	return db.log
}

// Namer returns the naming strategy.
func (db *Database) Namer() schema.Namer {
	return db.namer
}

// Close tears down the bus. Live records keep their cached state but stop
// receiving cross-instance invalidation.
func (db *Database) Close() error {
	db.bus.Close()
	return nil
}

func (db *Database) now() time.Time {
	return db.Config.NowFunc()
}

// Collection returns the store collection backing a table.
func (db *Database) Collection(table string) Collection {
	return db.Config.Store.Collection(table)
}

// Collection returns the store collection backing this model.
func (m *Model) Collection() Collection {
	return m.db.Collection(m.Table)
}

// Relation returns one of the model's relationship objects by key name.
func (m *Model) Relation(name string) (Relation, error) {
	if rel, ok := m.relations[name]; ok {
		return rel, nil
	}
	return nil, fmt.Errorf("model %s has no relationship %q", m.Name, name)
}

// RelationNames lists the model's declared relationship key names.
func (m *Model) RelationNames() []string {
	names := make([]string, 0, len(m.relations))
	for name := range m.relations {
		names = append(names, name)
	}
	return names
}

// Find loads one record by primary key. A miss returns (nil, nil).
func (m *Model) Find(ctx context.Context, primaryKey interface{}) (*Record, error) {
	values, err := m.Collection().Find(ctx, primaryKey)
	if err != nil {
		return nil, err
	}
	if values == nil {
		return nil, nil
	}
	return m.Hydrate(values), nil
}

// Truncate removes every record of this type and publishes the truncation.
func (m *Model) Truncate(ctx context.Context) error {
	writer, ok := m.Collection().(Writer)
	if !ok {
		return fmt.Errorf("%w: %s", ErrReadOnlyStore, m.Table)
	}

	begin := time.Now()
	err := writer.Truncate(ctx)
	m.db.log.Trace(ctx, begin, func() (string, int64) {
		return "truncate " + m.Table, -1
	}, err)
	if err != nil {
		return err
	}

	m.db.bus.EmitTruncated(m.Name)
	m.db.bus.EmitStorageMutated(m.Name)
	return nil
}
