// Package statistics keeps the latest run records of every client in memory
// and writes them back to a statistics file.
//
// Retention: a clean run replaces everything held for the client. A run in
// any other state replaces the previous non-clean run and keeps the last
// clean one, so a node holds at most one clean and one non-clean record.
//
// Writes are throttled: after an update the file is rewritten only when at
// least the minimum write delay has passed since the previous write. Pending
// changes are flushed by the next eligible update, by WriteBack(false) once
// the delay has passed, or by WriteBack(true) at any time.
//
// Store is not safe for concurrent use. Callers sharing a Store serialize
// access themselves (see internal/collector).
package statistics

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/loykin/runstats/internal/document"
)

// Store is the in-memory statistics tree plus its write-back state.
type Store struct {
	path          string
	codec         document.Codec
	fs            FileSystem
	clock         Clock
	log           *slog.Logger
	minWriteDelay time.Duration

	rootTag   string
	rootAttrs []document.Attr
	children  []rootChild // file order: nodes and foreign elements as loaded
	index     map[string][]*Node

	dirty     bool
	lastWrite time.Time // zero until the first successful write
}

// rootChild is one child of the root element: a client node, or an element
// the store does not interpret.
type rootChild struct {
	node *Node
	elem *document.Element
}

// Option configures a Store.
type Option func(*Store)

// WithCodec selects the file format (XML by default).
func WithCodec(c document.Codec) Option {
	return func(s *Store) {
		if c != nil {
			s.codec = c
		}
	}
}

// WithFileSystem replaces the file I/O collaborator.
func WithFileSystem(fs FileSystem) Option {
	return func(s *Store) {
		if fs != nil {
			s.fs = fs
		}
	}
}

// WithClock replaces the clock used for time stamps and the write throttle.
func WithClock(c Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMinWriteDelay overrides DefaultMinWriteDelay. Negative values are
// treated as zero.
func WithMinWriteDelay(d time.Duration) Option {
	return func(s *Store) {
		if d < 0 {
			d = 0
		}
		s.minWriteDelay = d
	}
}

// New loads the statistics file at path.
//
// A missing or unparsable file is logged and replaced: the store starts empty
// and the empty tree is written immediately. The load failure is never
// returned; only a failure to write that replacement file is.
func New(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("statistics: empty file path")
	}
	s := &Store{
		path:          path,
		codec:         document.XML{},
		fs:            OSFileSystem{},
		clock:         SystemClock,
		log:           slog.Default(),
		minWriteDelay: DefaultMinWriteDelay,
	}
	for _, o := range opts {
		o(s)
	}
	s.reset(nil)
	if err := s.load(); err != nil {
		s.log.Error("Failed to parse statistics file", "path", path, "error", err)
		s.reset(nil)
		if _, werr := s.WriteBack(true); werr != nil {
			return nil, werr
		}
	}
	s.dirty = false
	return s, nil
}

func (s *Store) load() error {
	data, err := s.fs.ReadFile(s.path)
	if err != nil {
		return &LoadError{Path: s.path, Err: err}
	}
	root, err := s.codec.Decode(data)
	if err != nil {
		return &LoadError{Path: s.path, Err: err}
	}
	s.reset(root)
	return nil
}

// reset replaces the in-memory tree with root, or with an empty
// ConfigStatistics container when root is nil.
func (s *Store) reset(root *document.Element) {
	s.rootTag = RootTag
	s.rootAttrs = nil
	s.children = nil
	s.index = make(map[string][]*Node)
	if root == nil {
		return
	}
	s.rootTag = root.Tag
	s.rootAttrs = append([]document.Attr(nil), root.Attrs...)
	for _, c := range root.Children {
		if c.Tag != NodeTag {
			s.children = append(s.children, rootChild{elem: c.Clone()})
			continue
		}
		s.insert(nodeFromElement(c))
	}
	for _, name := range s.Conflicts() {
		s.log.Error("Duplicate node entry in statistics file", "client", name, "count", len(s.index[name]))
	}
}

func (s *Store) insert(n *Node) {
	s.children = append(s.children, rootChild{node: n})
	s.index[n.Name] = append(s.index[n.Name], n)
}

func (s *Store) remove(n *Node) {
	for i, c := range s.children {
		if c.node == n {
			s.children = append(s.children[:i], s.children[i+1:]...)
			break
		}
	}
	peers := s.index[n.Name]
	for i, o := range peers {
		if o == n {
			peers = append(peers[:i], peers[i+1:]...)
			break
		}
	}
	if len(peers) == 0 {
		delete(s.index, n.Name)
		return
	}
	s.index[n.Name] = peers
}

// Update ingests one client report.
//
// The report must contain a Statistics element (the report itself, or its
// first descendant with that tag). The element is copied, stamped with the
// current time and attached to the client's node under the retention policy.
// The store is then marked dirty and WriteBack(false) runs.
//
// A client that has more than one node is left untouched: the anomaly is
// logged and the result's Action is ActionSkipped. Write failures are
// returned as *WriteError; the in-memory change is kept in that case.
func (s *Store) Update(client string, report *document.Element) (UpdateResult, error) {
	if client == "" {
		return UpdateResult{}, ErrEmptyClient
	}
	stat := report.Descendant(RecordTag)
	if stat == nil {
		return UpdateResult{Client: client}, ErrNoRunRecord
	}
	if err := document.Validate(document.NewElement(NodeTag, AttrName, client)); err != nil {
		return UpdateResult{Client: client}, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	if err := document.Validate(stat); err != nil {
		return UpdateResult{Client: client}, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	rec := newRunRecord(stat.Clone())
	res := UpdateResult{Client: client, State: rec.State()}

	var node *Node
	switch nodes := s.index[client]; {
	case len(nodes) > 1:
		s.log.Error("Duplicate node entry", "client", client, "count", len(nodes), "error", ErrDuplicateNode)
		res.Action = ActionSkipped
		res.Records = len(nodes[0].Records)
		return res, nil
	case len(nodes) == 0:
		node = newNode(client)
		s.insert(node)
		res.Action = ActionCreated
	case rec.Clean():
		s.remove(nodes[0])
		node = newNode(client)
		s.insert(node)
		res.Action = ActionReplaced
	default:
		node = nodes[0]
		node.dropNonClean()
		res.Action = ActionAppended
	}

	now := s.clock.Now()
	rec.elem.SetAttr(AttrTime, now.Local().Format(TimeLayout))
	node.appendRecord(rec)
	res.Time = now
	res.Records = len(node.Records)

	s.dirty = true
	flushed, err := s.WriteBack(false)
	res.Flushed = flushed
	return res, err
}

// WriteBack writes the whole tree to the statistics file when force is set,
// or when the store is dirty and at least the minimum write delay has passed
// since the last successful write. It reports whether the file was written.
func (s *Store) WriteBack(force bool) (bool, error) {
	if !force && !(s.dirty && s.writeDue(s.clock.Now())) {
		return false, nil
	}
	data, err := s.codec.Encode(s.Tree())
	if err != nil {
		return false, &WriteError{Path: s.path, Err: err}
	}
	if err := s.fs.WriteFile(s.path, data); err != nil {
		return false, &WriteError{Path: s.path, Err: err}
	}
	s.dirty = false
	s.lastWrite = s.clock.Now()
	return true, nil
}

func (s *Store) writeDue(now time.Time) bool {
	if s.lastWrite.IsZero() {
		return true
	}
	return now.Sub(s.lastWrite) >= s.minWriteDelay
}

// Tree builds the document for the current state. The result is a copy.
func (s *Store) Tree() *document.Element {
	root := &document.Element{Tag: s.rootTag, Attrs: append([]document.Attr(nil), s.rootAttrs...)}
	for _, c := range s.children {
		if c.node != nil {
			root.AddChild(c.node.element())
			continue
		}
		root.AddChild(c.elem.Clone())
	}
	return root
}

// Serialize renders the current tree with the store's codec.
func (s *Store) Serialize() ([]byte, error) {
	b, err := s.codec.Encode(s.Tree())
	if err != nil {
		return nil, fmt.Errorf("serialize statistics: %w", err)
	}
	return b, nil
}

// Nodes returns a copy of every node in file order.
func (s *Store) Nodes() []Node {
	out := make([]Node, 0, len(s.children))
	for _, c := range s.children {
		if c.node != nil {
			out = append(out, c.node.clone())
		}
	}
	return out
}

// Node returns a copy of the client's node. With duplicate entries the first
// one in file order is returned.
func (s *Store) Node(client string) (Node, bool) {
	nodes := s.index[client]
	if len(nodes) == 0 {
		return Node{}, false
	}
	return nodes[0].clone(), true
}

// Len returns the number of distinct clients.
func (s *Store) Len() int { return len(s.index) }

// Conflicts returns the sorted names of clients with more than one node.
func (s *Store) Conflicts() []string {
	var out []string
	for name, nodes := range s.index {
		if len(nodes) > 1 {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Dirty reports whether there are changes not yet written.
func (s *Store) Dirty() bool { return s.dirty }

// LastWrite returns the time of the last successful write (zero if none).
func (s *Store) LastWrite() time.Time { return s.lastWrite }

// Path returns the statistics file path.
func (s *Store) Path() string { return s.path }

// Codec returns the document codec used for the file.
func (s *Store) Codec() document.Codec { return s.codec }
