package schema

import (
	"sort"
	"strings"

	"github.com/jinzhu/inflection"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Namer names tables, foreign keys and join tables from model names when a
// relationship configuration does not spell them out.
type Namer interface {
	TableName(model string) string
	ColumnName(model, property string) string
	ForeignKeyName(table, primaryKey string) string
	JoinTableName(tableA, tableB string) string
}

// NamingStrategy tables, columns naming strategy
type NamingStrategy struct {
	TablePrefix   string
	SingularTable bool
}

// TableName convert model name to table name
func (ns NamingStrategy) TableName(model string) string {
	if ns.SingularTable {
		return ns.TablePrefix + ToDBName(model)
	}
	return ns.TablePrefix + inflection.Plural(ToDBName(model))
}

// ColumnName convert property name to column name
func (ns NamingStrategy) ColumnName(model, property string) string {
	return ToDBName(property)
}

// ForeignKeyName guess the foreign key column pointing at table:
// "users" with primary key "id" becomes "user_id".
func (ns NamingStrategy) ForeignKeyName(table, primaryKey string) string {
	return inflection.Singular(stripPrefix(table, ns.TablePrefix)) + "_" + primaryKey
}

// JoinTableName guess the join table joining tableA and tableB: the two
// table names are alphabetized and joined, so "posts" and "users" becomes
// "posts_users" regardless of which side declares the relationship.
func (ns NamingStrategy) JoinTableName(tableA, tableB string) string {
	names := []string{stripPrefix(tableA, ns.TablePrefix), stripPrefix(tableB, ns.TablePrefix)}
	sort.Strings(names)
	return ns.TablePrefix + strings.Join(names, "_")
}

func stripPrefix(table, prefix string) string {
	if prefix != "" && strings.HasPrefix(table, prefix) {
		return table[len(prefix):]
	}
	return table
}

// ToDBName convert a CamelCase name to its snake_case database form
func ToDBName(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

var titleCaser = cases.Title(language.Und, cases.NoLower)

// ToModelName convert a snake_case database name back to CamelCase
func ToModelName(name string) string {
	parts := strings.Split(name, "_")
	for i, p := range parts {
		parts[i] = titleCaser.String(p)
	}
	return strings.Join(parts, "")
}
