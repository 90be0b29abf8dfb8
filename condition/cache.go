package condition

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache memoizes parsed IF clauses by their source text. Cached clauses are
// shared, callers must not modify them.
type Cache struct {
	clauses *lru.Cache[string, *Clause]
}

func NewCache(size int) (*Cache, error) {
	clauses, err := lru.New[string, *Clause](size)
	if err != nil {
		return nil, err
	}
	return &Cache{clauses: clauses}, nil
}

// Parse returns the cached clause for src, parsing it on a miss. Parse
// errors are not cached.
func (c *Cache) Parse(src string) (*Clause, error) {
	if clause, ok := c.clauses.Get(src); ok {
		return clause, nil
	}
	clause, err := Parse(src)
	if err != nil {
		return nil, err
	}
	c.clauses.Add(src, clause)
	return clause, nil
}

// Len returns the number of cached clauses
func (c *Cache) Len() int {
	return c.clauses.Len()
}
