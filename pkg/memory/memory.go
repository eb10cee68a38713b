// Copyright 2025 The Timus Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package memory provides a vector-backed note store for agents, built
// on the embedded chromem-go database.
package memory

import (
	"context"
	"fmt"
	"runtime"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"

	"github.com/timus-ai/timus/pkg/llm"
)

const collectionName = "timus_memory"

// Note is one stored memory entry.
type Note struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SearchResult is a note with its similarity to the query.
type SearchResult struct {
	Note
	Score float32 `json:"score"`
}

// Config configures a memory store.
type Config struct {
	// Path enables persistence. Empty means in-memory only.
	Path string

	// Embedder produces vectors for stored and queried text.
	Embedder llm.Embedder
}

// Store is a semantic memory collection.
type Store struct {
	db  *chromem.DB
	col *chromem.Collection
}

// NewStore creates a memory store. With a path set the collection is
// persisted and reloaded across restarts.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}

	var db *chromem.DB
	var err error
	if cfg.Path != "" {
		db, err = chromem.NewPersistentDB(cfg.Path, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open memory db at %s: %w", cfg.Path, err)
		}
	} else {
		db = chromem.NewDB()
	}

	embed := func(ctx context.Context, text string) ([]float32, error) {
		return cfg.Embedder.Embed(ctx, text)
	}
	col, err := db.GetOrCreateCollection(collectionName, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory collection: %w", err)
	}

	return &Store{db: db, col: col}, nil
}

// Save stores a note and returns its generated id.
func (s *Store) Save(ctx context.Context, content string, metadata map[string]string) (string, error) {
	if content == "" {
		return "", fmt.Errorf("content cannot be empty")
	}

	id := uuid.NewString()
	doc := chromem.Document{
		ID:       id,
		Content:  content,
		Metadata: metadata,
	}
	if err := s.col.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return "", fmt.Errorf("failed to store memory: %w", err)
	}
	return id, nil
}

// Search returns up to limit notes ranked by similarity to the query.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if limit <= 0 {
		limit = 5
	}
	if count := s.col.Count(); limit > count {
		limit = count
	}
	if limit == 0 {
		return []SearchResult{}, nil
	}

	results, err := s.col.Query(ctx, query, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("memory search failed: %w", err)
	}

	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, SearchResult{
			Note: Note{
				ID:       r.ID,
				Content:  r.Content,
				Metadata: r.Metadata,
			},
			Score: r.Similarity,
		})
	}
	return out, nil
}

// Count returns the number of stored notes.
func (s *Store) Count() int {
	return s.col.Count()
}
