package sequence

import (
	"fmt"
	"os"
	"sort"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Library is an immutable, validated set of sequences.
type Library struct {
	byID  map[string]*Sequence
	order []string
}

// NewLibrary validates every sequence and builds a library. Sequences
// without a priority get DefaultPriority. The input slice is copied.
func NewLibrary(sequences []Sequence, channels ChannelResolver) (*Library, error) {
	lib := &Library{byID: make(map[string]*Sequence, len(sequences))}

	for i := range sequences {
		s := sequences[i].DeepCopy()
		if s.Priority == 0 {
			s.Priority = DefaultPriority
		}
		if err := Validate(s, channels); err != nil {
			return nil, err
		}
		if _, dup := lib.byID[s.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, s.ID)
		}
		lib.byID[s.ID] = s
		lib.order = append(lib.order, s.ID)
	}
	sort.Strings(lib.order)

	return lib, nil
}

// Get returns the sequence with id. The result is shared and read-only.
func (l *Library) Get(id string) (*Sequence, error) {
	s, ok := l.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSequenceNotFound, id)
	}
	return s, nil
}

// List returns copies of every sequence sorted by id.
func (l *Library) List() []Sequence {
	out := make([]Sequence, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, *l.byID[id].DeepCopy())
	}
	return out
}

// Count returns the number of sequences.
func (l *Library) Count() int {
	return len(l.order)
}

// catalogFile is the YAML layout of a sequence catalog.
type catalogFile struct {
	Sequences []Sequence `yaml:"sequences"`
}

// Parse decodes a YAML catalog and validates it into a Library.
func Parse(data []byte, channels ChannelResolver) (*Library, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: parsing catalog: %w", ErrInvalidSequence, err)
	}
	return NewLibrary(f.Sequences, channels)
}

// LoadFile reads and validates a YAML catalog.
func LoadFile(path string, channels ChannelResolver) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sequence catalog: %w", err)
	}
	return Parse(data, channels)
}

// Catalog publishes the current Library. Replacing it never affects
// executions already holding a *Sequence from the previous library.
type Catalog struct {
	current atomic.Pointer[Library]
}

// NewCatalog returns a catalog serving lib.
func NewCatalog(lib *Library) *Catalog {
	c := &Catalog{}
	c.current.Store(lib)
	return c
}

// Library returns the library currently served.
func (c *Catalog) Library() *Library {
	return c.current.Load()
}

// Replace swaps in a new, already validated library.
func (c *Catalog) Replace(lib *Library) {
	c.current.Store(lib)
}

// Get looks id up in the current library.
func (c *Catalog) Get(id string) (*Sequence, error) {
	return c.Library().Get(id)
}
