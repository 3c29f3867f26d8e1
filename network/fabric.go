// Package network implements the topology graph, shortest-latency routing,
// and packet delivery described by spec.md §3/§4.7: a weighted directed
// graph of hosts and links, where edge weight is latency, loss is sampled
// per delivery, and delivered packets become scheduled events on the
// destination host.
package network

import (
	"math"
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/shadow/shadow-sub012/event"
	"github.com/shadow/shadow-sub012/vtime"
)

// ErrNoRoute is returned by Route when src and dst are not connected.
var ErrNoRoute = errors.New("network: no route between hosts")

// Link carries the attributes spec.md's topology edge needs beyond a
// scalar weight: gonum's WeightedEdge models latency only, so loss and
// jitter seed live in Fabric's side map, keyed by the ordered host pair.
type Link struct {
	Latency    vtime.Duration
	LossProb   float64
	JitterSeed int64
}

// PRNG is the subset of math/rand/v2's *rand.Rand that loss sampling
// needs. Callers always pass the destination host's own PRNG so that
// delivery outcomes stay deterministic per-host regardless of which
// worker processed the delivery (spec.md §4.7: "loss sampled from a
// host-local PRNG", never the fabric's own).
type PRNG interface {
	Float64() float64
}

// Packet is one unit handed to Deliver: payload plus the descriptor-level
// addressing the destination socket layer needs to route it further.
type Packet struct {
	SrcHost event.HostId
	DstHost event.HostId
	Payload []byte
	// OnArrive is invoked on the destination host's worker once the
	// packet's scheduled arrival event fires, e.g. to hand payload to a
	// UDPSocket.Enqueue or TCPSocket.Deliver. Any further events it
	// produces (e.g. a reply packet's own Deliver event) must be returned
	// rather than scheduled directly, so they flow through the same
	// outbox/barrier path as every other cross-host event.
	OnArrive func(payload []byte) []event.Event
}

// Fabric is the simulation's network topology: a weighted directed graph
// (gonum, edge weight = latency) plus a side map of the attributes gonum's
// single scalar weight can't carry, and a path cache keyed by (src, dst)
// because route computation should happen at most once per host pair
// (spec.md §4.7: "paths may be cached").
type Fabric struct {
	g       *simple.WeightedDirectedGraph
	links   map[[2]event.HostId]Link
	cache   sync.Map // [2]event.HostId -> cachedRoute
	minLink vtime.Duration
}

type cachedRoute struct {
	latency vtime.Duration
	ok      bool
}

// New creates an empty fabric.
func New() *Fabric {
	return &Fabric{
		g:       simple.NewWeightedDirectedGraph(0, 0),
		links:   make(map[[2]event.HostId]Link),
		minLink: vtime.Duration(vtime.Max),
	}
}

// AddHost registers a host as a graph node. It is a no-op if already
// present.
func (f *Fabric) AddHost(id event.HostId) {
	n := simple.Node(int64(id))
	if f.g.Node(n.ID()) == nil {
		f.g.AddNode(n)
	}
}

// AddLink adds a directed edge src->dst with the given latency/loss/jitter
// attributes, weighted by latency for Dijkstra routing.
func (f *Fabric) AddLink(src, dst event.HostId, link Link) {
	f.AddHost(src)
	f.AddHost(dst)
	f.g.SetWeightedEdge(simple.WeightedEdge{
		F: simple.Node(int64(src)),
		T: simple.Node(int64(dst)),
		W: float64(link.Latency),
	})
	f.links[[2]event.HostId{src, dst}] = link
	if link.Latency < f.minLink {
		f.minLink = link.Latency
	}
}

// MinLatency returns the smallest latency of any link in the fabric, the
// value the scheduler uses to size its safe-time horizon Δ (spec.md §4.4).
// It returns 0 if the fabric has no links.
func (f *Fabric) MinLatency() vtime.Duration {
	if f.minLink == vtime.Duration(vtime.Max) {
		return 0
	}
	return f.minLink
}

// Route returns the cumulative latency of the shortest-latency path from
// src to dst, computing it via Dijkstra on first request and caching the
// result thereafter.
func (f *Fabric) Route(src, dst event.HostId) (vtime.Duration, error) {
	key := [2]event.HostId{src, dst}
	if v, ok := f.cache.Load(key); ok {
		r := v.(cachedRoute)
		if !r.ok {
			return 0, ErrNoRoute
		}
		return r.latency, nil
	}

	shortest := path.DijkstraFrom(simple.Node(int64(src)), f.g)
	_, weight := shortest.To(int64(dst))
	if math.IsInf(weight, 1) {
		f.cache.Store(key, cachedRoute{ok: false})
		return 0, ErrNoRoute
	}
	latency := vtime.Duration(weight)
	f.cache.Store(key, cachedRoute{latency: latency, ok: true})
	return latency, nil
}

// Deliver samples loss against the direct link from pkt.SrcHost to
// pkt.DstHost using rng (the destination host's own PRNG, per the
// determinism contract described on PRNG), and if not dropped, constructs
// the arrival event for now + routed latency. It does not enqueue the
// event itself: a task running mid-round owns only its own host's queue
// (scheduler.Scheduler's single-writer discipline), so Deliver hands the
// event back for the caller to return from Task.Run, letting the
// scheduler's outbox collect it and deliver it post-barrier like any other
// cross-host event (spec.md §4.4 step 4). It reports whether the packet
// was dropped, so callers can feed the packet-dropped trace record
// (SPEC_FULL §6).
func (f *Fabric) Deliver(now vtime.SimulationTime, pkt Packet, rng PRNG) (ev event.Event, dropped bool, err error) {
	link, ok := f.links[[2]event.HostId{pkt.SrcHost, pkt.DstHost}]
	lossProb := 0.0
	if ok {
		lossProb = link.LossProb
	}
	if lossProb > 0 && rng.Float64() < lossProb {
		return event.Event{}, true, nil
	}

	latency, err := f.Route(pkt.SrcHost, pkt.DstHost)
	if err != nil {
		return event.Event{}, false, err
	}

	arrival := now.Add(latency, vtime.Max)
	ev = event.New(event.Task{
		Kind: event.KindPacketDelivery,
		Run: func(ctx event.Context, ev event.Event) []event.Event {
			if pkt.OnArrive != nil {
				return pkt.OnArrive(pkt.Payload)
			}
			return nil
		},
	}, arrival, pkt.SrcHost, pkt.DstHost)

	return ev, false, nil
}

// Nodes reports every host currently registered in the fabric, for
// bootstrap validation (every host named in config must appear here).
func (f *Fabric) Nodes() []event.HostId {
	it := f.g.Nodes()
	var out []event.HostId
	for it.Next() {
		out = append(out, event.HostId(it.Node().ID()))
	}
	return out
}

var _ graph.WeightedDirected = (*simple.WeightedDirectedGraph)(nil)
