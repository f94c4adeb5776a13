package character

// Store exposes character retrieval for HTTP handlers and the relay.
type Store interface {
	List() []Character
	FindByID(id string) (Character, bool)
}

// MemoryStore implements Store with an in-memory slice; characters are
// fixed configuration so nothing heavier is needed.
type MemoryStore struct {
	items []Character
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied characters.
func NewMemoryStore(items []Character) *MemoryStore {
	return &MemoryStore{items: append([]Character(nil), items...)}
}

// List returns the configured character list.
func (s *MemoryStore) List() []Character {
	return append([]Character(nil), s.items...)
}

// FindByID looks up a character by identifier.
func (s *MemoryStore) FindByID(id string) (Character, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Character{}, false
}
