// Package favorites stores saved scan patterns in a reindexer
// namespace so frequently used patterns survive between sessions.
package favorites

import (
	"time"

	"github.com/restream/reindexer"
)

// Favorite is one saved pattern.
type Favorite struct {
	Name      string `reindex:"name,,pk" json:"name"`
	Pattern   string `reindex:"pattern" json:"pattern"`
	CreatedAt int64  `reindex:"created_at" json:"created_at"`
}

type Store struct {
	indexer   *reindexer.Reindexer
	namespace string
}

// Open connects the namespace, creating it on first use.
func Open(dsn, namespace string) (*Store, error) {
	r := reindexer.NewReindex(dsn)
	err := r.OpenNamespace(namespace, reindexer.DefaultNamespaceOptions(), Favorite{})
	if err != nil {
		return nil, err
	}
	return &Store{indexer: r, namespace: namespace}, nil
}

// Put saves or replaces a favorite.
func (s *Store) Put(name, pattern string) error {
	return s.indexer.Upsert(s.namespace, &Favorite{
		Name:      name,
		Pattern:   pattern,
		CreatedAt: time.Now().Unix(),
	})
}

// Get resolves a favorite by name.
func (s *Store) Get(name string) (*Favorite, bool) {
	result, found := s.indexer.Query(s.namespace).Where("name", reindexer.EQ, name).Get()
	if !found {
		return nil, false
	}
	return result.(*Favorite), true
}

// List returns all favorites ordered by name.
func (s *Store) List() ([]*Favorite, error) {
	it := s.indexer.Query(s.namespace).Sort("name", false).Exec()
	defer it.Close()
	var out []*Favorite
	for it.Next() {
		out = append(out, it.Object().(*Favorite))
	}
	return out, it.Error()
}

// Delete removes a favorite, reporting whether it existed.
func (s *Store) Delete(name string) (bool, error) {
	if _, found := s.Get(name); !found {
		return false, nil
	}
	return true, s.indexer.Delete(s.namespace, &Favorite{Name: name})
}
