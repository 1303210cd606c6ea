package memory

import (
	"context"
	"fmt"

	chromem "github.com/philippgille/chromem-go"
)

// vectorIndex is the nearest-neighbor half of the store. Split behind an
// interface so store tests can inject mid-write faults.
type vectorIndex interface {
	add(ctx context.Context, id string, vector []float32, meta map[string]string, content string) error
	query(ctx context.Context, vector []float32, k int, where map[string]string) ([]indexHit, error)
	remove(ctx context.Context, ids ...string) error
	count() int
}

type indexHit struct {
	id         string
	similarity float32
}

// chromemIndex backs the vector index with chromem-go, an embedded pure-Go
// vector database with cosine similarity.
type chromemIndex struct {
	collection *chromem.Collection
}

const collectionName = "records"

// newChromemIndex opens (or creates) the persistent index at path. An empty
// path keeps the index purely in memory, used by tests.
func newChromemIndex(path string) (*chromemIndex, error) {
	var db *chromem.DB
	var err error
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open vector index: %w", err)
		}
	}

	// Embeddings are always provided by the caller, so no embedding func.
	col, err := db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("open vector collection: %w", err)
	}
	return &chromemIndex{collection: col}, nil
}

func (c *chromemIndex) add(ctx context.Context, id string, vector []float32, meta map[string]string, content string) error {
	err := c.collection.AddDocument(ctx, chromem.Document{
		ID:        id,
		Embedding: vector,
		Metadata:  meta,
		Content:   content,
	})
	if err != nil {
		return fmt.Errorf("add vector %s: %w", id, err)
	}
	return nil
}

func (c *chromemIndex) query(ctx context.Context, vector []float32, k int, where map[string]string) ([]indexHit, error) {
	// chromem rejects nResults larger than the collection; clamp instead of
	// erroring so an empty store yields an empty list.
	if size := c.collection.Count(); k > size {
		k = size
	}
	if k <= 0 {
		return nil, nil
	}

	results, err := c.collection.QueryEmbedding(ctx, vector, k, where, nil)
	if err != nil {
		return nil, fmt.Errorf("query vector index: %w", err)
	}

	hits := make([]indexHit, len(results))
	for i, res := range results {
		hits[i] = indexHit{id: res.ID, similarity: res.Similarity}
	}
	return hits, nil
}

func (c *chromemIndex) remove(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("remove vectors: %w", err)
	}
	return nil
}

func (c *chromemIndex) count() int {
	return c.collection.Count()
}
