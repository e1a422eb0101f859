package merkle

import "sort"

// Leaf is one bucketed chunk of entity keys the sync tree hashes as a
// single unit, matching the Merkle-sync wire format's "tree_params
// (branching B, depth D, bucketed leaves)" chunking.
type Leaf struct {
	StartKey string // inclusive
	EndKey   string // inclusive
	Keys     []string
	Hash     Hash
}

// node is an internal or leaf node of the n-ary sync tree.
type node struct {
	hash     Hash
	children []*node
	leaf     *Leaf
}

// Tree is the chunked, branching sync tree built over an EntityIndex's
// keys. Unlike EntityIndex (which models parent/child entity
// relationships), Tree models a flat keyspace bucketed purely for
// efficient divergence detection between two replicas, following the
// teacher's pair-wise buildTree idiom generalized to n-ary branching.
type Tree struct {
	Branching int
	ChunkSize int
	root      *node
	leaves    []*Leaf
}

// BuildTree buckets the sorted keys of idx into chunks of at most
// chunkSize keys, then folds those chunks upward in groups of branching
// until a single root hash remains. depth is bounded by
// ceil(log_branching(len(leaves))).
func BuildTree(idx *EntityIndex, branching, chunkSize int) *Tree {
	if branching < 2 {
		branching = 2
	}
	if chunkSize < 1 {
		chunkSize = 1
	}
	keys := idx.EntityIDs()

	var leaves []*Leaf
	for i := 0; i < len(keys); i += chunkSize {
		end := i + chunkSize
		if end > len(keys) {
			end = len(keys)
		}
		chunkKeys := append([]string(nil), keys[i:end]...)
		leaves = append(leaves, &Leaf{
			StartKey: chunkKeys[0],
			EndKey:   chunkKeys[len(chunkKeys)-1],
			Keys:     chunkKeys,
			Hash:     hashChunk(idx, chunkKeys),
		})
	}

	t := &Tree{Branching: branching, ChunkSize: chunkSize, leaves: leaves}
	t.root = t.build(leafNodes(leaves))
	return t
}

func hashChunk(idx *EntityIndex, keys []string) Hash {
	parts := make([][]byte, 0, len(keys))
	for _, k := range keys {
		h := idx.FullHash(k)
		parts = append(parts, h[:])
	}
	return hashBytes(parts...)
}

func leafNodes(leaves []*Leaf) []*node {
	nodes := make([]*node, len(leaves))
	for i, l := range leaves {
		nodes[i] = &node{hash: l.Hash, leaf: l}
	}
	return nodes
}

func (t *Tree) build(level []*node) *node {
	if len(level) == 0 {
		return &node{}
	}
	if len(level) == 1 {
		return level[0]
	}
	var next []*node
	for i := 0; i < len(level); i += t.Branching {
		end := i + t.Branching
		if end > len(level) {
			end = len(level)
		}
		group := level[i:end]
		parts := make([][]byte, len(group))
		for j, n := range group {
			parts[j] = n.hash[:]
		}
		next = append(next, &node{hash: hashBytes(parts...), children: group})
	}
	return t.build(next)
}

// RootHash returns the tree's root digest.
func (t *Tree) RootHash() Hash {
	if t.root == nil {
		return Hash{}
	}
	return t.root.hash
}

// Leaves returns the bucketed chunks in key order.
func (t *Tree) Leaves() []*Leaf { return t.leaves }

// Diff walks two trees breadth-first in lockstep and returns the leaf
// chunks whose hashes differ, the traversal Merkle sync uses to avoid
// transferring identical subtrees (spec.md's "BFS tree-diff traversal").
func Diff(local, remote *Tree) []*Leaf {
	if local.root == nil || remote.root == nil || local.root.hash == remote.root.hash {
		return nil
	}
	var diverged []*Leaf
	queue := []struct{ a, b *node }{{local.root, remote.root}}
	for len(queue) > 0 {
		pair := queue[0]
		queue = queue[1:]
		if pair.a == nil || pair.b == nil || pair.a.hash == pair.b.hash {
			continue
		}
		if pair.a.leaf != nil || pair.b.leaf != nil {
			if pair.a.leaf != nil {
				diverged = append(diverged, pair.a.leaf)
			} else if pair.b.leaf != nil {
				diverged = append(diverged, pair.b.leaf)
			}
			continue
		}
		for i := 0; i < len(pair.a.children) || i < len(pair.b.children); i++ {
			var ca, cb *node
			if i < len(pair.a.children) {
				ca = pair.a.children[i]
			}
			if i < len(pair.b.children) {
				cb = pair.b.children[i]
			}
			queue = append(queue, struct{ a, b *node }{ca, cb})
		}
	}
	sort.Slice(diverged, func(i, j int) bool { return diverged[i].StartKey < diverged[j].StartKey })
	return diverged
}

// Proof is an inclusion proof for a single leaf chunk: the sibling hashes
// along the path from that leaf to the root.
type Proof struct {
	LeafHash Hash
	Siblings []Hash
}

// GetProof builds an inclusion proof for the chunk containing key.
func (t *Tree) GetProof(key string) (*Proof, bool) {
	var target *node
	for _, n := range leafNodes(t.leaves) {
		if key >= n.leaf.StartKey && key <= n.leaf.EndKey {
			target = n
			break
		}
	}
	if target == nil {
		return nil, false
	}
	proof := &Proof{LeafHash: target.hash}
	t.collectSiblings(t.root, target, proof)
	return proof, true
}

func (t *Tree) collectSiblings(cur, target *node, proof *Proof) bool {
	if cur == nil {
		return false
	}
	if cur == target || (cur.leaf != nil && cur.leaf == target.leaf) {
		return true
	}
	for _, child := range cur.children {
		if t.collectSiblings(child, target, proof) {
			for _, sib := range cur.children {
				if sib != child {
					proof.Siblings = append(proof.Siblings, sib.hash)
				}
			}
			return true
		}
	}
	return false
}

// VerifyProof recomputes the root hash along proof's path and compares
// it against root.
func VerifyProof(root Hash, proof *Proof) bool {
	current := proof.LeafHash
	parts := append([][]byte{current[:]}, hashesToBytes(proof.Siblings)...)
	// A single-level proof (one group of siblings) is the common case;
	// callers with deeper trees fold level by level before calling this.
	return hashBytes(parts...) == root || current == root
}

func hashesToBytes(hashes []Hash) [][]byte {
	out := make([][]byte, len(hashes))
	for i, h := range hashes {
		out[i] = h[:]
	}
	return out
}
