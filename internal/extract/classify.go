package extract

import (
	"sort"

	"healthetl/internal/record"
)

// Normalize rewrites the type attribute of every measurement record through
// record.NormalizeType. It must run before Classify and CollectStats; a second
// call is a no-op.
func Normalize(doc *Document) {
	if doc.normalized {
		return
	}
	for i := range doc.Nodes {
		n := &doc.Nodes[i]
		if !n.IsGeneric() {
			continue
		}
		if t, ok := n.Attrs["type"]; ok {
			n.Attrs["type"] = record.NormalizeType(t)
		}
	}
	doc.normalized = true
}

// Classification maps each distinct type among measurement records to its
// record count.
type Classification map[string]int

// Classify returns the distinct normalized types and their counts. A record
// without a type attribute is classified under "".
func Classify(doc *Document) Classification {
	out := Classification{}
	for _, n := range doc.Nodes {
		if n.IsGeneric() {
			out[n.Type()]++
		}
	}
	return out
}

// Types returns the classified types sorted lexicographically.
func (c Classification) Types() []string {
	out := make([]string, 0, len(c))
	for t := range c {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Counter is an occurrence multiset.
type Counter map[string]int

// Keys returns the counter keys in lexicographic order.
func (c Counter) Keys() []string {
	out := make([]string, 0, len(c))
	for k := range c {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Total returns the sum of all counts.
func (c Counter) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// Counters are the four independent frequency tallies of one run.
type Counters struct {
	Tags        Counter // every node, by element name
	Fields      Counter // every node, one per attribute name it carries
	RecordTypes Counter // measurement records, by normalized type
	SourceNames Counter // measurement records, by sourceName
}

// CollectStats builds all four counters in a single pass.
func CollectStats(doc *Document) Counters {
	c := Counters{
		Tags:        Counter{},
		Fields:      Counter{},
		RecordTypes: Counter{},
		SourceNames: Counter{},
	}
	for _, n := range doc.Nodes {
		c.Tags[n.Tag]++
		for k := range n.Attrs {
			c.Fields[k]++
		}
		if !n.IsGeneric() {
			continue
		}
		c.RecordTypes[n.Type()]++
		c.SourceNames[n.SourceName()]++
	}
	return c
}
