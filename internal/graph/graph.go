// Package graph builds the transaction graph and runs the structural
// detectors (bounded cycles and shell chains) over it.
package graph

import (
	"sort"
	"time"

	"github.com/opensource-finance/ringwatch/internal/domain"
)

// Edge is one transaction between two accounts.
type Edge struct {
	TxID      string
	From      string
	To        string
	Amount    float64
	Timestamp time.Time
}

// Graph is a directed multigraph over accounts. It is read-only after Build
// and safe for concurrent readers.
type Graph struct {
	nodes  []string
	adjOut map[string][]Edge
	adjIn  map[string][]Edge
	succ   map[string][]string // distinct, sorted
	pred   map[string][]string // distinct, sorted
	edges  int
}

// Build creates the graph for a batch. Every transaction becomes its own edge,
// so repeated transfers between the same pair are kept as parallel edges.
func Build(txs []domain.Transaction) *Graph {
	g := &Graph{
		adjOut: make(map[string][]Edge),
		adjIn:  make(map[string][]Edge),
		succ:   make(map[string][]string),
		pred:   make(map[string][]string),
	}

	seen := make(map[string]struct{})
	addNode := func(id string) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			g.nodes = append(g.nodes, id)
		}
	}

	for _, tx := range txs {
		addNode(tx.SenderID)
		addNode(tx.ReceiverID)

		edge := Edge{
			TxID:      tx.ID,
			From:      tx.SenderID,
			To:        tx.ReceiverID,
			Amount:    tx.Amount,
			Timestamp: tx.Timestamp,
		}
		g.adjOut[edge.From] = append(g.adjOut[edge.From], edge)
		g.adjIn[edge.To] = append(g.adjIn[edge.To], edge)
		g.edges++
	}

	sort.Strings(g.nodes)
	for node, out := range g.adjOut {
		g.succ[node] = distinct(out, func(e Edge) string { return e.To })
	}
	for node, in := range g.adjIn {
		g.pred[node] = distinct(in, func(e Edge) string { return e.From })
	}

	return g
}

func distinct(edges []Edge, key func(Edge) string) []string {
	set := make(map[string]struct{}, len(edges))
	out := make([]string, 0, len(edges))
	for _, e := range edges {
		k := key(e)
		if _, ok := set[k]; ok {
			continue
		}
		set[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Nodes returns all account ids in ascending order.
func (g *Graph) Nodes() []string {
	return g.nodes
}

// NodeCount returns the number of accounts.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of transactions.
func (g *Graph) EdgeCount() int {
	return g.edges
}

// Successors returns the distinct accounts that node sent to, sorted.
func (g *Graph) Successors(node string) []string {
	return g.succ[node]
}

// Predecessors returns the distinct accounts that sent to node, sorted.
func (g *Graph) Predecessors(node string) []string {
	return g.pred[node]
}

// OutEdges returns the transactions sent by node.
func (g *Graph) OutEdges(node string) []Edge {
	return g.adjOut[node]
}

// InEdges returns the transactions received by node.
func (g *Graph) InEdges(node string) []Edge {
	return g.adjIn[node]
}

// OutDegree counts transactions sent by node, parallel edges included.
func (g *Graph) OutDegree(node string) int {
	return len(g.adjOut[node])
}

// InDegree counts transactions received by node, parallel edges included.
func (g *Graph) InDegree(node string) int {
	return len(g.adjIn[node])
}

// Degree is the total number of transactions node takes part in.
func (g *Graph) Degree(node string) int {
	return g.InDegree(node) + g.OutDegree(node)
}

// HasEdge reports whether at least one transaction from -> to exists.
func (g *Graph) HasEdge(from, to string) bool {
	succ := g.succ[from]
	i := sort.SearchStrings(succ, to)
	return i < len(succ) && succ[i] == to
}
