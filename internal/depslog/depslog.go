// Package depslog implements the binary log of dynamically-discovered
// dependencies (the output of `-MMD`-style compiler flags, recorded once
// per build instead of re-parsed from depfiles every time). Records are
// append-only and reference paths by a compact integer id assigned the
// first time each path is seen, keeping repeated dependency sets cheap to
// store.
package depslog

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"lukechampine.com/uint128"

	"nb/internal/graph"
)

const (
	fileSignature  = "# ninjadeps\n"
	currentVersion = 4

	maxRecordSize = (1 << 19) - 1
	// deps records are marked by the high bit of the 4-byte size prefix.
	depsRecordMark = uint32(1) << 31
)

// record is one node's most recently recorded dependency set.
type record struct {
	Mtime graph.TimeStamp
	Nodes []*graph.Node
}

// Log is the in-memory index of a .ninja_deps file: every path it has ever
// assigned an id to, and the latest dependency record for each.
type Log struct {
	path              string
	file              *os.File
	writer            *bufio.Writer
	nodes             []*graph.Node // id -> node
	records           []*record     // id -> latest deps record for that id, or nil
	needsRecompaction bool
}

func New() *Log {
	return &Log{}
}

// mtimePair packs the record format's lo/hi 32-bit mtime halves into a
// single comparable value.
func mtimePair(mtime graph.TimeStamp) uint128.Uint128 {
	u := uint64(mtime)
	return uint128.New(u&0xffffffff, u>>32)
}

func mtimeFromPair(p uint128.Uint128) graph.TimeStamp {
	return graph.TimeStamp(int64(p.Lo&0xffffffff | p.Hi<<32))
}

// Load reads path into a fresh Log, tolerating a truncated or corrupt
// trailing record (a build killed mid-write) by stopping the scan there
// rather than failing outright. Every path record seen assigns (or
// re-resolves) a node's id via state.
func Load(path string, state *graph.State) (*Log, error) {
	l := &Log{path: path}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	sig := make([]byte, len(fileSignature))
	if _, err := io.ReadFull(r, sig); err != nil || string(sig) != fileSignature {
		// Missing or unrecognized signature: treat as if no log existed,
		// and have OpenForWrite rewrite the file from scratch.
		return &Log{path: path, needsRecompaction: true}, nil
	}
	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return &Log{path: path, needsRecompaction: true}, nil
	}
	if version != currentVersion {
		return &Log{path: path, needsRecompaction: true}, nil
	}

	uniqueDeps, totalDeps := 0, 0
	for {
		var sizeWord uint32
		if err := binary.Read(r, binary.LittleEndian, &sizeWord); err != nil {
			break // EOF, or a short read at the tail: stop here, not an error.
		}
		isDeps := sizeWord&depsRecordMark != 0
		size := sizeWord &^ depsRecordMark
		if size > maxRecordSize {
			break
		}
		buf := make([]byte, size)
		if _, err := io.ReadFull(r, buf); err != nil {
			break
		}

		if !isDeps {
			if len(buf) < 4 {
				break
			}
			pathBytes := buf[:len(buf)-4]
			for len(pathBytes) > 0 && pathBytes[len(pathBytes)-1] == 0 {
				pathBytes = pathBytes[:len(pathBytes)-1]
			}
			checksum := binary.LittleEndian.Uint32(buf[len(buf)-4:])
			id := len(l.nodes)
			if checksum != ^uint32(id) {
				break
			}
			canon, slashBits := graph.CanonicalizePath(string(pathBytes))
			node := state.GetNode(canon, slashBits)
			node.SetID(id)
			l.nodes = append(l.nodes, node)
			l.records = append(l.records, nil)
			continue
		}

		if len(buf) < 12 || len(buf)%4 != 0 {
			break
		}
		outID := binary.LittleEndian.Uint32(buf[0:4])
		mtimeLo := binary.LittleEndian.Uint32(buf[4:8])
		mtimeHi := binary.LittleEndian.Uint32(buf[8:12])
		if int(outID) >= len(l.nodes) {
			break
		}
		inCount := (len(buf) - 12) / 4
		nodes := make([]*graph.Node, 0, inCount)
		ok := true
		for i := 0; i < inCount; i++ {
			inID := binary.LittleEndian.Uint32(buf[12+i*4 : 16+i*4])
			if int(inID) >= len(l.nodes) {
				ok = false
				break
			}
			nodes = append(nodes, l.nodes[inID])
		}
		if !ok {
			break
		}
		mtime := mtimeFromPair(uint128.New(uint64(mtimeLo), uint64(mtimeHi)))
		if l.records[outID] == nil {
			uniqueDeps++
		}
		l.records[outID] = &record{Mtime: mtime, Nodes: nodes}
		totalDeps++
	}

	if totalDeps > 100 && totalDeps > uniqueDeps*3 {
		l.needsRecompaction = true
	}
	return l, nil
}

// Deps implements graph.DepsLog.
func (l *Log) Deps(output *graph.Node) (graph.DepsRecord, bool) {
	id := output.ID()
	if id < 0 || id >= len(l.records) || l.records[id] == nil {
		return graph.DepsRecord{}, false
	}
	r := l.records[id]
	return graph.DepsRecord{Mtime: r.Mtime, Nodes: r.Nodes}, true
}

// OpenForWrite associates path with this log for subsequent RecordDeps
// calls, recompacting first if Load flagged the log as due for one.
func (l *Log) OpenForWrite(path string) error {
	if l.needsRecompaction {
		if err := l.Recompact(path); err != nil {
			return err
		}
	}
	l.path = path
	return nil
}

func (l *Log) ensureOpen() error {
	if l.file != nil || l.path == "" {
		return nil
	}
	info, statErr := os.Stat(l.path)
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	l.file = f
	l.writer = bufio.NewWriter(f)
	if statErr != nil || info.Size() == 0 {
		if _, err := l.writer.WriteString(fileSignature); err != nil {
			return err
		}
		if err := binary.Write(l.writer, binary.LittleEndian, uint32(currentVersion)); err != nil {
			return err
		}
	}
	return nil
}

func (l *Log) recordID(n *graph.Node) error {
	if n.ID() >= 0 {
		return nil
	}
	if err := l.ensureOpen(); err != nil {
		return err
	}
	id := len(l.nodes)
	n.SetID(id)
	l.nodes = append(l.nodes, n)
	l.records = append(l.records, nil)
	if l.writer == nil {
		// In-memory log (no path): assign the id without writing a record.
		return nil
	}

	path := []byte(n.Path())
	padded := (len(path) + 4) &^ 3 // round up, leaving room for >=1 padding NUL
	buf := make([]byte, padded)
	copy(buf, path)
	size := uint32(padded) + 4
	if err := binary.Write(l.writer, binary.LittleEndian, size); err != nil {
		return err
	}
	if _, err := l.writer.Write(buf); err != nil {
		return err
	}
	return binary.Write(l.writer, binary.LittleEndian, ^uint32(id))
}

// RecordDeps writes a deps record for node if it differs from whatever was
// last recorded for it — an edge that produces byte-identical dependency
// information every run should not grow the log on every run.
func (l *Log) RecordDeps(node *graph.Node, mtime graph.TimeStamp, nodes []*graph.Node) error {
	changed := node.ID() < 0
	if err := l.recordID(node); err != nil {
		return err
	}
	for _, n := range nodes {
		if n.ID() < 0 {
			changed = true
		}
		if err := l.recordID(n); err != nil {
			return err
		}
	}

	if !changed {
		existing := l.records[node.ID()]
		if existing == nil || existing.Mtime != mtime || len(existing.Nodes) != len(nodes) {
			changed = true
		} else {
			for i, n := range nodes {
				if existing.Nodes[i] != n {
					changed = true
					break
				}
			}
		}
	}
	if !changed {
		return nil
	}

	l.records[node.ID()] = &record{Mtime: mtime, Nodes: append([]*graph.Node{}, nodes...)}

	if err := l.ensureOpen(); err != nil {
		return err
	}
	if l.writer == nil {
		return nil
	}
	pair := mtimePair(mtime)
	size := depsRecordMark | uint32(12+4*len(nodes))
	if err := binary.Write(l.writer, binary.LittleEndian, size); err != nil {
		return err
	}
	if err := binary.Write(l.writer, binary.LittleEndian, uint32(node.ID())); err != nil {
		return err
	}
	if err := binary.Write(l.writer, binary.LittleEndian, uint32(pair.Lo)); err != nil {
		return err
	}
	if err := binary.Write(l.writer, binary.LittleEndian, uint32(pair.Hi)); err != nil {
		return err
	}
	for _, n := range nodes {
		if err := binary.Write(l.writer, binary.LittleEndian, uint32(n.ID())); err != nil {
			return err
		}
	}
	return l.writer.Flush()
}

// Close flushes and releases the write handle, if one is open.
func (l *Log) Close() error {
	if l.writer != nil {
		if err := l.writer.Flush(); err != nil {
			return err
		}
	}
	if l.file != nil {
		err := l.file.Close()
		l.file, l.writer = nil, nil
		return err
	}
	return nil
}

// Recompact rewrites the log from scratch: every node gets a fresh, densely
// packed id and only the latest deps record per node is kept. Used when
// Load flags the existing log as worth shrinking, and by `-t recompact`.
func (l *Log) Recompact(path string) error {
	if err := l.Close(); err != nil {
		return err
	}
	tempPath := path + ".recompact"
	f, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if _, err := w.WriteString(fileSignature); err != nil {
		f.Close()
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(currentVersion)); err != nil {
		f.Close()
		return err
	}

	fresh := New()
	fresh.path = path
	fresh.file = f
	fresh.writer = w
	for _, n := range l.nodes {
		n.SetID(-1)
	}
	for id, n := range l.nodes {
		rec := l.records[id]
		if rec == nil {
			continue
		}
		if err := fresh.RecordDeps(n, rec.Mtime, rec.Nodes); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Rename(tempPath, path); err != nil {
		return err
	}

	*l = *fresh
	l.file = nil
	l.writer = nil
	l.needsRecompaction = false
	return nil
}
