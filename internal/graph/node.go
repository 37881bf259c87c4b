// Package graph holds the dependency graph's data model (nodes, edges,
// pools, the top-level State) and the dirty-state propagation that turns a
// set of requested targets into the minimal build plan.
package graph

import "github.com/segmentio/fasthash/fnv1a"

// TimeStamp is a file modification time, in the same units Disk.Stat
// returns (nanoseconds since the Unix epoch). -1 means "never stat'd"; 0
// means "stat'd and missing".
type TimeStamp int64

const (
	Unknown TimeStamp = -1
	Missing TimeStamp = 0
)

// Node represents a file path participating in the graph: at most one
// in-edge produces it, any number of out-edges consume it.
type Node struct {
	path      string
	slashBits uint64

	mtime  TimeStamp
	exists existenceStatus

	dirty bool
	// id is the deps-log compact index, -1 until assigned.
	id int

	inEdge   *Edge
	outEdges []*Edge
	// validationOutEdges lists edges for which this node is a validation
	// input, so a graph walk can find "must also run" edges.
	validationOutEdges []*Edge

	generatedByDepLoader bool
	dyndepPending        bool
}

type existenceStatus uint8

const (
	existenceUnknown existenceStatus = iota
	existenceMissing
	existenceExists
)

// NewNode returns a node for the given canonical path. slashBits records
// which path separators were originally backslashes, for
// PathDecanonicalized on platforms that care.
func NewNode(path string, slashBits uint64) *Node {
	return &Node{path: path, slashBits: slashBits, mtime: Unknown, id: -1}
}

func (n *Node) Path() string { return n.path }

func (n *Node) SlashBits() uint64 { return n.slashBits }

func (n *Node) Mtime() TimeStamp { return n.mtime }

func (n *Node) SetMtime(t TimeStamp) { n.mtime = t }

func (n *Node) Exists() bool { return n.exists == existenceExists }

func (n *Node) StatusKnown() bool { return n.exists != existenceUnknown }

func (n *Node) MarkMissing() {
	if n.mtime == Unknown {
		n.mtime = Missing
	}
	n.exists = existenceMissing
}

func (n *Node) ResetState() {
	n.mtime = Unknown
	n.exists = existenceUnknown
	n.dirty = false
}

func (n *Node) Dirty() bool        { return n.dirty }
func (n *Node) SetDirty(dirty bool) { n.dirty = dirty }
func (n *Node) MarkDirty()         { n.dirty = true }

func (n *Node) DyndepPending() bool         { return n.dyndepPending }
func (n *Node) SetDyndepPending(p bool)     { n.dyndepPending = p }

func (n *Node) InEdge() *Edge         { return n.inEdge }
func (n *Node) setInEdge(e *Edge)     { n.inEdge = e }

func (n *Node) OutEdges() []*Edge { return n.outEdges }
func (n *Node) addOutEdge(e *Edge) { n.outEdges = append(n.outEdges, e) }

func (n *Node) ValidationOutEdges() []*Edge { return n.validationOutEdges }
func (n *Node) addValidationOutEdge(e *Edge) {
	n.validationOutEdges = append(n.validationOutEdges, e)
}

func (n *Node) GeneratedByDepLoader() bool     { return n.generatedByDepLoader }
func (n *Node) SetGeneratedByDepLoader(v bool) { n.generatedByDepLoader = v }

// StatNode re-stats n against disk and updates its cached mtime and
// existence, the post-command restat a restat/generator edge needs to
// decide whether its output actually changed.
func (n *Node) StatNode(disk Disk) (TimeStamp, error) {
	mtime, err := disk.Stat(n.path)
	if err != nil {
		return Unknown, err
	}
	n.mtime = mtime
	if mtime == Missing {
		n.exists = existenceMissing
	} else {
		n.exists = existenceExists
	}
	return mtime, nil
}

func (n *Node) ID() int      { return n.id }
func (n *Node) SetID(id int) { n.id = id }

// Hash returns a stable 64-bit fingerprint of the canonical path. The core
// freshness decision never uses it; it always compares paths by
// byte-identity.
func (n *Node) Hash() uint64 { return fnv1a.HashString64(n.path) }
