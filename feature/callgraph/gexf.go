// Package callgraph computes MalScan style centrality features of sensitive
// API calls from call graphs exported as GEXF.
package callgraph

import (
	"encoding/xml"
	"os"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/malcleanse/malcleanse/pkg/errors"
)

type gexfDocument struct {
	Graph struct {
		DefaultEdgeType string `xml:"defaultedgetype,attr"`
		Nodes           []struct {
			ID    string `xml:"id,attr"`
			Label string `xml:"label,attr"`
		} `xml:"nodes>node"`
		Edges []struct {
			Source string `xml:"source,attr"`
			Target string `xml:"target,attr"`
		} `xml:"edges>edge"`
	} `xml:"graph"`
}

// CallGraph is a call graph whose nodes are method signatures.
type CallGraph struct {
	g          *simple.DirectedGraph
	ids        map[string]int64
	undirected bool
}

// ReadGEXF parses a GEXF file. Nodes are keyed by their label, or by their id
// when the label is empty. Self loops are ignored.
func ReadGEXF(path string) (*CallGraph, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewArtifactNotFoundError("call graph", path)
		}
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	var doc gexfDocument
	if err := xml.NewDecoder(f).Decode(&doc); err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}

	cg := &CallGraph{
		g:          simple.NewDirectedGraph(),
		ids:        make(map[string]int64, len(doc.Graph.Nodes)),
		undirected: doc.Graph.DefaultEdgeType == "undirected",
	}
	byID := make(map[string]graph.Node, len(doc.Graph.Nodes))
	for _, n := range doc.Graph.Nodes {
		name := n.Label
		if name == "" {
			name = n.ID
		}
		byID[n.ID] = cg.node(name)
	}
	for _, e := range doc.Graph.Edges {
		from, ok := byID[e.Source]
		if !ok {
			from = cg.node(e.Source)
			byID[e.Source] = from
		}
		to, ok := byID[e.Target]
		if !ok {
			to = cg.node(e.Target)
			byID[e.Target] = to
		}
		cg.addEdge(from, to)
	}
	return cg, nil
}

// New returns an empty directed call graph.
func New() *CallGraph {
	return &CallGraph{g: simple.NewDirectedGraph(), ids: make(map[string]int64)}
}

// AddCall records a call from caller to callee.
func (c *CallGraph) AddCall(caller, callee string) {
	c.addEdge(c.node(caller), c.node(callee))
}

func (c *CallGraph) node(name string) graph.Node {
	if id, ok := c.ids[name]; ok {
		return c.g.Node(id)
	}
	n := c.g.NewNode()
	c.g.AddNode(n)
	c.ids[name] = n.ID()
	return n
}

func (c *CallGraph) addEdge(from, to graph.Node) {
	if from.ID() == to.ID() {
		return
	}
	c.g.SetEdge(c.g.NewEdge(from, to))
	if c.undirected {
		c.g.SetEdge(c.g.NewEdge(to, from))
	}
}

// Len returns the number of methods.
func (c *CallGraph) Len() int { return c.g.Nodes().Len() }

// ID returns the node id of a method.
func (c *CallGraph) ID(name string) (int64, bool) {
	id, ok := c.ids[name]
	return id, ok
}
