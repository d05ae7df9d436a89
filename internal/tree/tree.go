// Package tree implements the lazily-populated, path-keyed directory
// cache described in spec.md §4.5 (C5). Nodes live in a slice-backed
// arena; parent links are arena indices rather than pointers so the
// whole tree — and the Volume that owns it — can be torn down in one
// step with no ownership cycles (spec.md §9, "Design Notes").
package tree

import (
	"strings"
	"sync"

	"github.com/oksana-fs/fatfuse/internal/fat"
)

// noParent marks the root node, which has no parent index.
const noParent = -1

type node struct {
	file      *fat.File
	parent    int // arena index, or noParent for the root
	children  map[string]int
	openCount int
	tombstone bool
}

// Tree is the directory tree cache (C5). It owns every node it has
// ever created for the lifetime of the mounted volume.
type Tree struct {
	mu    sync.Mutex
	arena []*node
	byPath map[string]int
}

// Node is an opaque handle into the tree, returned by Insert/Search so
// callers never hold a raw arena index.
type Node struct {
	idx int
}

// New creates a tree rooted at root, per spec.md §3 ("path = '/'").
func New(root *fat.File) *Tree {
	t := &Tree{
		byPath: make(map[string]int),
	}
	t.arena = append(t.arena, &node{
		file:     root,
		parent:   noParent,
		children: make(map[string]int),
	})
	t.byPath[normalize(root.Path())] = 0
	return t
}

// Root returns a handle to the tree's root node.
func (t *Tree) Root() Node { return Node{idx: 0} }

// normalize enforces spec.md §3's path convention: leading slash, no
// trailing slash except for root, forward-slash separators.
func normalize(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path
}

// Search performs a strict-equality path lookup; it does not populate
// children, per spec.md §4.5.
func (t *Tree) Search(path string) (Node, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, ok := t.byPath[normalize(path)]
	if !ok {
		return Node{}, false
	}
	return Node{idx: idx}, true
}

// GetFile returns the File held by n.
func (t *Tree) GetFile(n Node) *fat.File {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.arena[n.idx].file
}

// GetParent returns n's parent node. ok is false for the root.
func (t *Tree) GetParent(n Node) (Node, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.arena[n.idx].parent
	if p == noParent {
		return Node{}, false
	}
	return Node{idx: p}, true
}

// Insert creates a child node of parent holding file, per spec.md
// §4.5. If a node for file.Path() already exists, the existing node is
// returned instead of inserting a duplicate. Newly inserted nodes have
// open_count = 0.
func (t *Tree) Insert(parent Node, file *fat.File) Node {
	t.mu.Lock()
	defer t.mu.Unlock()

	path := normalize(file.Path())
	if idx, ok := t.byPath[path]; ok {
		return Node{idx: idx}
	}

	idx := len(t.arena)
	t.arena = append(t.arena, &node{
		file:     file,
		parent:   parent.idx,
		children: make(map[string]int),
	})
	t.byPath[path] = idx

	name := childKey(path)
	t.arena[parent.idx].children[name] = idx

	return Node{idx: idx}
}

func childKey(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// Delete removes the node for path. Deletion is permitted only when
// open_count == 0; otherwise the node is tombstoned until Release
// drops the last reference, per spec.md §4.5.
func (t *Tree) Delete(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deleteLocked(normalize(path))
}

func (t *Tree) deleteLocked(path string) {
	idx, ok := t.byPath[path]
	if !ok {
		return
	}
	n := t.arena[idx]
	if n.openCount > 0 {
		n.tombstone = true
		return
	}
	t.removeLocked(idx, path)
}

func (t *Tree) removeLocked(idx int, path string) {
	n := t.arena[idx]
	if n.parent != noParent {
		delete(t.arena[n.parent].children, childKey(path))
	}
	delete(t.byPath, path)
	t.arena[idx] = nil
}

// IncOpen increments n's open reference count.
func (t *Tree) IncOpen(n Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.arena[n.idx].openCount++
}

// DecOpen decrements n's open reference count, reaping the node
// immediately if it was tombstoned and this was the last reference.
func (t *Tree) DecOpen(n Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	nd := t.arena[n.idx]
	if nd == nil {
		return
	}
	nd.openCount--
	if nd.openCount <= 0 && nd.tombstone {
		t.removeLocked(n.idx, normalize(nd.file.Path()))
	}
}

// FlattenChildren returns a stable snapshot of n's currently resolved
// children Files, per spec.md §4.5.
func (t *Tree) FlattenChildren(n Node) []*fat.File {
	t.mu.Lock()
	defer t.mu.Unlock()
	nd := t.arena[n.idx]
	out := make([]*fat.File, 0, len(nd.children))
	for _, idx := range nd.children {
		if c := t.arena[idx]; c != nil {
			out = append(out, c.file)
		}
	}
	return out
}

// ChildrenRead reports whether n's directory children have already
// been populated, per spec.md §4.5's lazy-population rule.
func (t *Tree) ChildrenRead(n Node) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.arena[n.idx].file.ChildrenRead()
}
