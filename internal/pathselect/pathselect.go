// Package pathselect enumerates simple forwarding paths and loopback probe
// paths over a channel graph snapshot, scored by a unit-cost-plus-QoS
// function, adapted from the teacher's bandwidthHints/bandwidthManager
// filtering pattern in routing/bandwidth.go and the reputation scoring
// shape in rep.go.
package pathselect

import (
	"fmt"
	"sort"

	"github.com/relaymesh/relayd/internal/channelgraph"
)

// QoSSource supplies per-peer connectivity and quality observations,
// populated by the Heartbeat/Probe component.
type QoSSource interface {
	// Connected reports whether addr has been measured at all (a
	// zero-valued/unmeasured peer is excluded from path endpoints).
	Connected(addr channelgraph.Address) bool

	// Score returns a quality-of-service score in [0, 1]; zero means the
	// edge must be rejected as a path endpoint.
	Score(addr channelgraph.Address) float64
}

// Path is an ordered sequence of hop addresses, self excluded from the
// slice but implicit as the path's origin.
type Path struct {
	Hops []channelgraph.Address
	Cost float64
}

// ErrNoGraph is returned when no candidate paths of the requested length
// exist.
type ErrNoGraph struct {
	From, To channelgraph.Address
	Length   int
}

func (e *ErrNoGraph) Error() string {
	return fmt.Sprintf("pathselect: no simple path of length %d from %x to %x",
		e.Length, e.From[:4], e.To[:4])
}

// Selector computes candidate forwarding and loopback paths over a single
// channel-graph snapshot and a QoS source.
type Selector struct {
	graph *channelgraph.Graph
	qos   QoSSource
}

// New constructs a Selector.
func New(graph *channelgraph.Graph, qos QoSSource) *Selector {
	return &Selector{graph: graph, qos: qos}
}

// edgeAcceptableEndpoint reports whether addr is usable as a path's first
// or last hop: it must have been measured by the heartbeat subsystem and
// carry a non-zero QoS score.
func (s *Selector) edgeAcceptableEndpoint(addr channelgraph.Address) bool {
	if !s.qos.Connected(addr) {
		return false
	}
	return s.qos.Score(addr) > 0
}

// SelectPaths returns up to k simple paths of exactly length hops from self
// to dst, sorted ascending by cost.
func (s *Selector) SelectPaths(self, dst channelgraph.Address, hops, k int) ([]Path, error) {
	if hops < 2 || hops > 4 {
		return nil, fmt.Errorf("pathselect: unsupported hop length %d", hops)
	}

	snapshot := s.graph.Snapshot()

	var found []Path
	visited := map[channelgraph.Address]bool{self: true}
	current := make([]channelgraph.Address, 0, hops)

	var walk func(from channelgraph.Address, depth int, cost float64)
	walk = func(from channelgraph.Address, depth int, cost float64) {
		if depth == hops {
			if from == dst {
				path := make([]channelgraph.Address, len(current))
				copy(path, current)
				found = append(found, Path{Hops: path, Cost: cost})
			}
			return
		}

		for _, ch := range snapshot {
			if ch.Source != from || !ch.Status.AcceptsTickets() {
				continue
			}
			to := ch.Destination
			if visited[to] {
				continue
			}
			// dst is only a valid intermediate hop on the final edge.
			if to == dst && depth != hops-1 {
				continue
			}

			isFirst := depth == 0
			isLast := depth == hops-1

			if isFirst && !s.edgeAcceptableEndpoint(to) {
				continue
			}
			if isLast {
				if !s.edgeAcceptableEndpoint(to) {
					continue
				}
				if ch.Balance.Uint64() == 0 {
					continue
				}
			}

			edgeCost := 1.0
			if isLast {
				edgeCost = 1.0 / s.qos.Score(to)
			}

			visited[to] = true
			current = append(current, to)
			walk(to, depth+1, cost+edgeCost)
			current = current[:len(current)-1]
			visited[to] = false
		}
	}

	walk(self, 0, 0)

	if len(found) == 0 {
		return nil, &ErrNoGraph{From: self, To: dst, Length: hops}
	}

	sort.Slice(found, func(i, j int) bool { return found[i].Cost < found[j].Cost })
	if len(found) > k {
		found = found[:k]
	}
	return found, nil
}

// Loopback returns up to k simple paths of exactly hops length that begin
// and end at self, used to probe link quality and refresh SURB reserves.
func (s *Selector) Loopback(self channelgraph.Address, hops, k int) ([]Path, error) {
	if hops < 2 || hops > 4 {
		return nil, fmt.Errorf("pathselect: unsupported hop length %d", hops)
	}

	snapshot := s.graph.Snapshot()

	var found []Path
	visited := map[channelgraph.Address]bool{self: true}
	current := make([]channelgraph.Address, 0, hops)

	var walk func(from channelgraph.Address, depth int, cost float64)
	walk = func(from channelgraph.Address, depth int, cost float64) {
		if depth == hops {
			if from == self {
				path := make([]channelgraph.Address, len(current))
				copy(path, current)
				found = append(found, Path{Hops: path, Cost: cost})
			}
			return
		}

		for _, ch := range snapshot {
			if ch.Source != from || !ch.Status.AcceptsTickets() {
				continue
			}
			to := ch.Destination

			returning := depth == hops-1 && to == self
			if !returning && visited[to] {
				continue
			}

			isFirst := depth == 0
			if isFirst && !s.edgeAcceptableEndpoint(to) {
				continue
			}

			edgeCost := 1.0
			if returning {
				// The loop's closing edge has no QoS peer to
				// score against (it returns to self); treat
				// as unit cost.
				edgeCost = 1.0
			}

			if !returning {
				visited[to] = true
			}
			current = append(current, to)
			walk(to, depth+1, cost+edgeCost)
			current = current[:len(current)-1]
			if !returning {
				visited[to] = false
			}
		}
	}

	walk(self, 0, 0)

	if len(found) == 0 {
		return nil, &ErrNoGraph{From: self, To: self, Length: hops}
	}

	sort.Slice(found, func(i, j int) bool { return found[i].Cost < found[j].Cost })
	if len(found) > k {
		found = found[:k]
	}
	return found, nil
}
