package schema

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Definition declares one record type: its name, backing table, primary key
// and relationships. Table and PrimaryKey may be left empty and are filled
// in by the naming strategy at registration time.
type Definition struct {
	Name          string                         `yaml:"name"`
	Table         string                         `yaml:"table,omitempty"`
	PrimaryKey    string                         `yaml:"primary_key,omitempty"`
	Relationships map[string]*RelationshipConfig `yaml:"relationships,omitempty"`
}

// Normalize fill in table and primary key defaults. Relationship
// configurations are validated when their relation objects are built, not
// here.
func (d *Definition) Normalize(namer Namer) error {
	if d.Name == "" {
		return fmt.Errorf("model definition requires a name")
	}
	if d.Table == "" {
		d.Table = namer.TableName(d.Name)
	}
	if d.PrimaryKey == "" {
		d.PrimaryKey = "id"
	}
	for name, cfg := range d.Relationships {
		if cfg == nil {
			return fmt.Errorf("relationship %s.%s has no configuration", d.Name, name)
		}
	}
	return nil
}

type yamlSchema struct {
	Models []Definition `yaml:"models"`
}

// LoadYAML parse model definitions from a YAML document of the form:
//
//	models:
//	  - name: User
//	    relationships:
//	      posts:
//	        kind: has_many
//	        model: Post
func LoadYAML(data []byte) ([]Definition, error) {
	var doc yamlSchema
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	if len(doc.Models) == 0 {
		return nil, fmt.Errorf("schema document declares no models")
	}
	return doc.Models, nil
}
