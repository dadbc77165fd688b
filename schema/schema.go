/*
 * Copyright 2025 The bunkit Authors.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package schema derives field-level descriptors from Bun model metadata and
// converts between column-keyed maps and model structs. All type knowledge
// comes from the Bun mapper; this package only walks what the mapper already
// inspected.
package schema

import (
	"fmt"
	"reflect"

	"github.com/uptrace/bun"
	bunschema "github.com/uptrace/bun/schema"
)

// Field describes a single mapped column of a model.
type Field struct {
	Name          string // struct field name
	Column        string // SQL column name
	GoType        string
	NotNull       bool
	PK            bool
	AutoIncrement bool
	SQLDefault    string
}

// Definition is a generated schema descriptor for one model type.
type Definition struct {
	Model  string
	Table  string
	Alias  string
	Fields []Field

	typ   reflect.Type
	table *bunschema.Table
}

// Generate builds a Definition for the given model struct (value or pointer)
// from the database's mapper metadata.
func Generate(db *bun.DB, model any) (*Definition, error) {
	typ := reflect.TypeOf(model)
	for typ != nil && typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ == nil || typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("schema: model must be a struct or struct pointer, got %T", model)
	}

	table := db.Table(typ)
	def := &Definition{
		Model: typ.Name(),
		Table: table.Name,
		Alias: table.Alias,
		typ:   typ,
		table: table,
	}
	for _, f := range table.Fields {
		def.Fields = append(def.Fields, Field{
			Name:          f.StructField.Name,
			Column:        f.Name,
			GoType:        f.IndirectType.String(),
			NotNull:       f.NotNull,
			PK:            f.IsPK,
			AutoIncrement: f.AutoIncrement,
			SQLDefault:    f.SQLDefault,
		})
	}
	return def, nil
}

// Columns returns the SQL column names in declaration order.
func (d *Definition) Columns() []string {
	cols := make([]string, 0, len(d.Fields))
	for _, f := range d.Fields {
		cols = append(cols, f.Column)
	}
	return cols
}

// FieldByColumn looks up a field descriptor by its SQL column name.
func (d *Definition) FieldByColumn(column string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Column == column {
			return f, true
		}
	}
	return Field{}, false
}

// Load populates dest (a pointer to the definition's model type) from a map
// keyed by column or struct field names. Keys that do not correspond to a
// mapped column are ignored; nil values leave the zero value in place.
func (d *Definition) Load(data map[string]any, dest any) error {
	v := reflect.ValueOf(dest)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return fmt.Errorf("schema: dest must be a non-nil pointer to %s", d.Model)
	}
	v = v.Elem()
	if v.Type() != d.typ {
		return fmt.Errorf("schema: dest must be *%s, got %s", d.Model, v.Type())
	}

	for _, f := range d.table.Fields {
		raw, ok := data[f.Name]
		if !ok {
			raw, ok = data[f.StructField.Name]
		}
		if !ok || raw == nil {
			continue
		}
		fv := v.FieldByIndex(f.Index)
		rv := reflect.ValueOf(raw)
		switch {
		case rv.Type().AssignableTo(fv.Type()):
			fv.Set(rv)
		case rv.Type().ConvertibleTo(fv.Type()):
			fv.Set(rv.Convert(fv.Type()))
		default:
			return fmt.Errorf("schema: cannot assign %s to column %q (%s)",
				rv.Type(), f.Name, fv.Type())
		}
	}
	return nil
}

// New allocates a model instance and loads the given data into it.
func (d *Definition) New(data map[string]any) (any, error) {
	dest := reflect.New(d.typ)
	if err := d.Load(data, dest.Interface()); err != nil {
		return nil, err
	}
	return dest.Interface(), nil
}

// Dump returns a column-keyed map of the entity's mapped attributes. When
// columns are given, only those columns are included.
func Dump(db *bun.DB, entity any, columns ...string) (map[string]any, error) {
	v := reflect.ValueOf(entity)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, fmt.Errorf("schema: entity must not be nil")
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("schema: entity must be a struct, got %T", entity)
	}

	var include map[string]struct{}
	if len(columns) > 0 {
		include = make(map[string]struct{}, len(columns))
		for _, c := range columns {
			include[c] = struct{}{}
		}
	}

	table := db.Table(v.Type())
	data := make(map[string]any, len(table.Fields))
	for _, f := range table.Fields {
		if include != nil {
			if _, ok := include[f.Name]; !ok {
				continue
			}
		}
		data[f.Name] = v.FieldByIndex(f.Index).Interface()
	}
	return data, nil
}
