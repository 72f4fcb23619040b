// Package diagnostics holds the hierarchical group/array bundles that
// scorers emit for later inspection, and the Sink contract for persisting
// them.
//
// Scorers build a complete Group in memory and hand it to a Sink only after
// the whole computation succeeded, so a sink never observes a partially
// written record.
package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Separator joins group names into paths.
const Separator = "/"

var (
	// ErrInvalidName is returned for empty names or names containing Separator.
	ErrInvalidName = errors.New("diagnostics: invalid name")

	// ErrExists is returned when writing an array name twice in one group.
	ErrExists = errors.New("diagnostics: array already exists")
)

// Array is a named float64 dataset.
type Array struct {
	Name string
	Data []float64
}

// Group is a named node holding ordered subgroups and arrays. A Group is
// not safe for concurrent mutation.
type Group struct {
	name   string
	groups []*Group
	arrays []Array
}

// NewGroup returns an empty group.
func NewGroup(name string) (*Group, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	return &Group{name: name}, nil
}

func checkName(name string) error {
	if name == "" || strings.Contains(name, Separator) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Name returns the group's name.
func (g *Group) Name() string {
	return g.name
}

// Require returns the subgroup called name, creating it if needed.
func (g *Group) Require(name string) (*Group, error) {
	if sub := g.Sub(name); sub != nil {
		return sub, nil
	}
	sub, err := NewGroup(name)
	if err != nil {
		return nil, err
	}
	g.groups = append(g.groups, sub)
	return sub, nil
}

// Sub returns the direct subgroup called name, or nil.
func (g *Group) Sub(name string) *Group {
	for _, sub := range g.groups {
		if sub.name == name {
			return sub
		}
	}
	return nil
}

// WriteArray stores a copy of data under name.
func (g *Group) WriteArray(name string, data []float64) error {
	if err := checkName(name); err != nil {
		return err
	}
	if _, ok := g.Array(name); ok {
		return fmt.Errorf("%w: %q in group %q", ErrExists, name, g.name)
	}
	g.arrays = append(g.arrays, Array{Name: name, Data: slices.Clone(data)})
	return nil
}

// Array returns the array called name.
func (g *Group) Array(name string) ([]float64, bool) {
	for _, a := range g.arrays {
		if a.Name == name {
			return a.Data, true
		}
	}
	return nil, false
}

// Groups returns the direct subgroups in insertion order.
func (g *Group) Groups() []*Group {
	return slices.Clone(g.groups)
}

// Arrays returns the group's own arrays in insertion order.
func (g *Group) Arrays() []Array {
	return slices.Clone(g.arrays)
}

// Lookup resolves a Separator-joined path of subgroup names below g.
func (g *Group) Lookup(path string) (*Group, bool) {
	cur := g
	for _, name := range strings.Split(path, Separator) {
		if cur = cur.Sub(name); cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// Walk calls fn for every array at or below g, depth first, arrays before
// subgroups. groupPath is the Separator-joined path from g (inclusive).
func (g *Group) Walk(fn func(groupPath string, a Array) error) error {
	return g.walk(g.name, fn)
}

func (g *Group) walk(path string, fn func(string, Array) error) error {
	for _, a := range g.arrays {
		if err := fn(path, a); err != nil {
			return err
		}
	}
	for _, sub := range g.groups {
		if err := sub.walk(path+Separator+sub.name, fn); err != nil {
			return err
		}
	}
	return nil
}

// Sink persists finished diagnostic groups. Commit merges g into the
// stored tree at the top level: every array in g replaces the array at the
// same path, and groups or arrays that g does not mention are kept. A commit
// is atomic; either all of g's arrays become visible or none do.
type Sink interface {
	Commit(ctx context.Context, g *Group) error
}

// Merge copies every array and subgroup of other into g, replacing arrays
// that already exist at the same path.
func (g *Group) Merge(other *Group) {
	for _, a := range other.arrays {
		data := slices.Clone(a.Data)
		if i := slices.IndexFunc(g.arrays, func(x Array) bool { return x.Name == a.Name }); i >= 0 {
			g.arrays[i].Data = data
			continue
		}
		g.arrays = append(g.arrays, Array{Name: a.Name, Data: data})
	}
	for _, sub := range other.groups {
		dst := g.Sub(sub.name)
		if dst == nil {
			dst = &Group{name: sub.name}
			g.groups = append(g.groups, dst)
		}
		dst.Merge(sub)
	}
}

type prefixed struct {
	sink Sink
	name string
}

// Prefix returns a Sink that commits every group below a top-level group
// called name in s. A width sweep uses it to file each width's records
// under their own group.
func Prefix(s Sink, name string) (Sink, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	return &prefixed{sink: s, name: name}, nil
}

func (p *prefixed) Commit(ctx context.Context, g *Group) error {
	return p.sink.Commit(ctx, &Group{name: p.name, groups: []*Group{g}})
}

// MemorySink keeps committed groups in memory. It is safe for concurrent use.
type MemorySink struct {
	mu   sync.Mutex
	root *Group
}

// NewMemorySink returns an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{root: &Group{name: "root"}}
}

// Commit merges a copy of g into the sink.
func (s *MemorySink) Commit(ctx context.Context, g *Group) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.root.Merge(&Group{name: s.root.name, groups: []*Group{g}})
	return nil
}

// Group returns a copy of the committed top-level group called name, or nil.
// Later commits do not show up in the copy.
func (s *MemorySink) Group(name string) *Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.root.Sub(name)
	if g == nil {
		return nil
	}
	out := &Group{name: g.name}
	out.Merge(g)
	return out
}

// Names returns the names of all committed top-level groups.
func (s *MemorySink) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.root.groups))
	for _, g := range s.root.groups {
		names = append(names, g.name)
	}
	return names
}
