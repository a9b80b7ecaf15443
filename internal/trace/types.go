// Package trace provides the event types `cmd/hoedur run --trace`
// renders: one Event per hook the Execution Engine fires while
// running an Input, carried from internal/engine up to the CLI's
// colorized trace renderer, one line per event.
package trace

import "time"

// Tag represents a trace event category.
// Tags are stored without # prefix; the prefix is added on rendering.
type Tag string

// Standard tags for firmware trace events.
const (
	Block     Tag = "block"
	MMIORead  Tag = "mmio-read"
	MMIOWrite Tag = "mmio-write"
	ROMWrite  Tag = "rom-write"
	Interrupt Tag = "interrupt"
	Fault     Tag = "fault"
	Hang      Tag = "hang"
	Exhausted Tag = "exhausted"
)

// Tags is a collection of tags with helper methods.
type Tags []Tag

// Has returns true if the tag collection contains the given tag.
func (t Tags) Has(tag Tag) bool {
	for _, x := range t {
		if x == tag {
			return true
		}
	}
	return false
}

// Add adds a tag if not already present.
func (t *Tags) Add(tag Tag) {
	if !t.Has(tag) {
		*t = append(*t, tag)
	}
}

// Strings returns tags as strings with # prefix for display.
func (t Tags) Strings() []string {
	out := make([]string, len(t))
	for i, tag := range t {
		out[i] = "#" + string(tag)
	}
	return out
}

// Raw returns tags as strings without # prefix.
func (t Tags) Raw() []string {
	out := make([]string, len(t))
	for i, tag := range t {
		out[i] = string(tag)
	}
	return out
}

// Primary returns the first tag or empty string if none.
func (t Tags) Primary() Tag {
	if len(t) > 0 {
		return t[0]
	}
	return ""
}

// Annotations holds key-value metadata for trace events (e.g. MMIO
// address/size, fault reason, exception number).
type Annotations map[string]string

// Set adds or updates an annotation.
func (a Annotations) Set(k, v string) {
	a[k] = v
}

// Get retrieves an annotation value.
func (a Annotations) Get(k string) string {
	return a[k]
}

// Has returns true if the annotation exists.
func (a Annotations) Has(k string) bool {
	_, ok := a[k]
	return ok
}

// Event represents one traced hook firing: a basic block entry, an
// MMIO access, a ROM write, an interrupt poll, or a terminal
// classification.
type Event struct {
	PC          uint64      // program counter the hook fired at
	Tags        Tags        // multiple hashtags, first is primary
	Name        string      // symbol name at PC, if resolved
	Detail      string      // e.g. "addr=0x40000000 size=4"
	Annotations Annotations // key-value metadata
	Timestamp   time.Time   // when the event occurred
}

// NewEvent creates a new trace event with the given parameters.
func NewEvent(pc uint64, category Tag, name, detail string) *Event {
	return &Event{
		PC:          pc,
		Tags:        Tags{category},
		Name:        name,
		Detail:      detail,
		Annotations: make(Annotations),
		Timestamp:   time.Now(),
	}
}

// AddTag adds a tag to the event.
func (e *Event) AddTag(tag Tag) {
	e.Tags.Add(tag)
}

// Annotate sets an annotation on the event.
func (e *Event) Annotate(k, v string) {
	if e.Annotations == nil {
		e.Annotations = make(Annotations)
	}
	e.Annotations.Set(k, v)
}

// PrimaryTag returns the primary (first) tag with # prefix.
func (e *Event) PrimaryTag() string {
	if len(e.Tags) > 0 {
		return "#" + string(e.Tags[0])
	}
	return ""
}

// Enricher enriches trace events based on their primary tag.
type Enricher func(e *Event)

// DefaultEnricher adds a second, more specific tag derived from an
// event's Annotations once its primary category is known — e.g.
// marking a fault event with its HardFaultReason as a second tag so
// the renderer shows a compound "#fault #bus-error" rather than just
// "#fault".
func DefaultEnricher(e *Event) {
	if len(e.Tags) == 0 {
		return
	}

	switch e.Tags[0] {
	case Fault:
		if reason := e.Annotations.Get("reason"); reason != "" {
			e.AddTag(Tag(reason))
		}
	case MMIORead, MMIOWrite:
		if e.Annotations.Get("exhausted") == "true" {
			e.AddTag(Exhausted)
		}
	}
}
