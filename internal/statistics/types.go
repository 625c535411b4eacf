package statistics

import (
	"time"

	"github.com/loykin/runstats/internal/document"
)

// File layout constants.
const (
	RootTag   = "ConfigStatistics"
	NodeTag   = "Node"
	RecordTag = "Statistics"

	AttrName  = "name"
	AttrState = "state"
	AttrTime  = "time"

	StateClean = "clean"
	StateDirty = "dirty"

	// TimeLayout is the asctime layout used for the time attribute.
	TimeLayout = time.ANSIC

	DefaultMinWriteDelay = 30 * time.Second
)

// RunRecord is one ingested client report. It owns a private copy of the
// report's Statistics element; everything except the time attribute is kept
// exactly as the client sent it.
type RunRecord struct {
	elem *document.Element
}

func newRunRecord(e *document.Element) *RunRecord { return &RunRecord{elem: e} }

// State returns the reported state attribute ("" when absent).
func (r *RunRecord) State() string { return r.elem.Get(AttrState) }

// Clean reports whether the run was reported clean. Any other state,
// including a missing one, counts as dirty.
func (r *RunRecord) Clean() bool { return r.State() == StateClean }

// Time parses the stamped time attribute in the local time zone.
func (r *RunRecord) Time() (time.Time, bool) {
	v, ok := r.elem.Attr(AttrTime)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(TimeLayout, v, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// RawTime returns the time attribute as stored.
func (r *RunRecord) RawTime() string { return r.elem.Get(AttrTime) }

// Element returns a copy of the full record element.
func (r *RunRecord) Element() *document.Element { return r.elem.Clone() }

// Payload returns copies of the record's child elements.
func (r *RunRecord) Payload() []*document.Element {
	return r.elem.Clone().Children
}

func (r *RunRecord) clone() *RunRecord { return &RunRecord{elem: r.elem.Clone()} }

// Node is the run history kept for one client.
type Node struct {
	Name    string
	Records []*RunRecord

	attrs []document.Attr
	// layout is the node's child order. A nil entry stands for the next
	// record in Records; other entries are elements kept verbatim.
	layout []*document.Element
}

func newNode(name string) *Node {
	return &Node{Name: name, attrs: []document.Attr{{Key: AttrName, Value: name}}}
}

func nodeFromElement(e *document.Element) *Node {
	n := &Node{Name: e.Get(AttrName), attrs: append([]document.Attr(nil), e.Attrs...)}
	for _, c := range e.Children {
		if c.Tag == RecordTag {
			n.Records = append(n.Records, newRunRecord(c.Clone()))
			n.layout = append(n.layout, nil)
			continue
		}
		n.layout = append(n.layout, c.Clone())
	}
	return n
}

func (n *Node) element() *document.Element {
	e := &document.Element{Tag: NodeTag, Attrs: append([]document.Attr(nil), n.attrs...)}
	ri := 0
	for _, x := range n.layout {
		if x != nil {
			e.AddChild(x.Clone())
			continue
		}
		if ri < len(n.Records) {
			e.AddChild(n.Records[ri].elem.Clone())
			ri++
		}
	}
	for ; ri < len(n.Records); ri++ {
		e.AddChild(n.Records[ri].elem.Clone())
	}
	return e
}

func (n *Node) appendRecord(r *RunRecord) {
	n.Records = append(n.Records, r)
	n.layout = append(n.layout, nil)
}

// dropNonClean removes every record that is not clean. Other children keep
// their positions.
func (n *Node) dropNonClean() {
	layout := n.layout[:0]
	ri := 0
	for _, x := range n.layout {
		if x != nil {
			layout = append(layout, x)
			continue
		}
		if ri < len(n.Records) && n.Records[ri].Clean() {
			layout = append(layout, nil)
		}
		ri++
	}
	n.layout = layout

	kept := n.Records[:0]
	for _, r := range n.Records {
		if r.Clean() {
			kept = append(kept, r)
		}
	}
	for i := len(kept); i < len(n.Records); i++ {
		n.Records[i] = nil
	}
	n.Records = kept
}

func (n *Node) clone() Node {
	c := Node{Name: n.Name, attrs: append([]document.Attr(nil), n.attrs...)}
	for _, r := range n.Records {
		c.Records = append(c.Records, r.clone())
	}
	for _, x := range n.layout {
		c.layout = append(c.layout, x.Clone())
	}
	return c
}

// Latest returns the most recently ingested record, or nil.
func (n Node) Latest() *RunRecord {
	if len(n.Records) == 0 {
		return nil
	}
	return n.Records[len(n.Records)-1]
}

// Action describes what an update did to the client's node.
type Action string

const (
	ActionCreated  Action = "created"
	ActionReplaced Action = "replaced"
	ActionAppended Action = "appended"
	ActionSkipped  Action = "skipped"
)

// UpdateResult reports the outcome of Store.Update.
type UpdateResult struct {
	Client  string
	Action  Action
	State   string
	Time    time.Time
	Records int  // records held by the node after the update
	Flushed bool // whether the update caused a physical write
}
