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

// Package model provides embeddable building blocks for Bun models: a UUID
// primary key, created/updated timestamp tracking, and a combination of both.
// The fields are maintained by Bun query hooks, so embedding a mixin is all a
// model needs to do.
package model

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// PKModel adds a client-generated UUID primary key.
type PKModel struct {
	ID uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
}

var _ bun.BeforeAppendModelHook = (*PKModel)(nil)

// BeforeAppendModel populates the primary key on insert. An explicitly set
// key is never overwritten, so callers may assign their own UUIDs.
func (m *PKModel) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	if _, ok := query.(*bun.InsertQuery); ok && m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// IDKey returns a stable identity string for the record, or a transient
// marker when no primary key has been assigned yet.
func (m *PKModel) IDKey() string {
	if m.ID == uuid.Nil {
		return fmt.Sprintf("transient:%p", m)
	}
	return m.ID.String()
}

// TimestampsModel adds created_at/updated_at tracking.
type TimestampsModel struct {
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

var _ bun.BeforeAppendModelHook = (*TimestampsModel)(nil)

// BeforeAppendModel stamps creation time once and touches the modification
// time on every insert and update.
func (m *TimestampsModel) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now()
	switch query.(type) {
	case *bun.InsertQuery:
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		if m.UpdatedAt.IsZero() {
			m.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		m.UpdatedAt = now
	}
	return nil
}

// Model combines PKModel and TimestampsModel. Embedding both mixins directly
// would leave the promoted hook method ambiguous, so Model carries its own
// hook delegating to each part.
type Model struct {
	PKModel
	TimestampsModel
}

var _ bun.BeforeAppendModelHook = (*Model)(nil)

// BeforeAppendModel runs both mixin hooks.
func (m *Model) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	if err := m.PKModel.BeforeAppendModel(ctx, query); err != nil {
		return err
	}
	return m.TimestampsModel.BeforeAppendModel(ctx, query)
}
