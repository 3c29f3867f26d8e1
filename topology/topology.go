// Package topology loads the GraphML document spec.md §6 names as the
// network topology input: hosts as nodes, links as directed weighted
// edges carrying latency, loss probability, and a jitter seed. No GraphML
// library exists anywhere in the retrieved pack, so this is built directly
// on encoding/xml — the one ambient concern this expansion grounds on the
// standard library rather than a third-party dependency (see DESIGN.md).
//
// Generalizes the teacher's plain-text adjacency loader (network.go's
// NewHostNetwork reading a distance matrix) into a richer, attributed
// graph reader, the way network.Fabric generalizes HostNetwork itself.
package topology

import (
	"encoding/xml"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/shadow/shadow-sub012/event"
	"github.com/shadow/shadow-sub012/network"
	"github.com/shadow/shadow-sub012/vtime"
)

// HostNode is one <node> element: a host identity plus its interface
// bandwidth caps (spec.md §3 Host "bandwidth_up"/"bandwidth_down").
type HostNode struct {
	ID       string
	UpKbps   uint64
	DownKbps uint64
}

// LinkEdge is one <edge> element, carrying the network.Link attributes a
// single gonum scalar weight can't: loss probability and a jitter seed
// alongside latency.
type LinkEdge struct {
	Src, Dst string
	network.Link
}

// Topology is the graph a GraphML document describes, prior to host-id
// assignment (config.Build maps HostNode.ID strings onto event.HostId
// values and feeds the result into a network.Fabric).
type Topology struct {
	Hosts []HostNode
	Links []LinkEdge
}

type graphmlDocument struct {
	XMLName xml.Name     `xml:"graphml"`
	Keys    []graphmlKey `xml:"key"`
	Graph   graphmlGraph `xml:"graph"`
}

type graphmlKey struct {
	ID       string `xml:"id,attr"`
	For      string `xml:"for,attr"`
	AttrName string `xml:"attr.name,attr"`
}

type graphmlGraph struct {
	Nodes []graphmlNode `xml:"node"`
	Edges []graphmlEdge `xml:"edge"`
}

type graphmlNode struct {
	ID   string        `xml:"id,attr"`
	Data []graphmlData `xml:"data"`
}

type graphmlEdge struct {
	Source string        `xml:"source,attr"`
	Target string        `xml:"target,attr"`
	Data   []graphmlData `xml:"data"`
}

type graphmlData struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

// Load parses the GraphML document at path into a Topology. Node <data>
// keys of attr.name "bandwidth_up"/"bandwidth_down" populate a HostNode's
// bandwidth caps; edge <data> keys of attr.name "latency" (a
// time.ParseDuration string), "loss" (a float in [0,1]), and
// "jitter_seed" (an int64) populate a LinkEdge.
func Load(path string) (*Topology, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "topology: opening %s", path)
	}
	defer f.Close()

	var doc graphmlDocument
	if err := xml.NewDecoder(f).Decode(&doc); err != nil {
		return nil, errors.Wrapf(err, "topology: parsing %s", path)
	}

	names := make(map[string]string, len(doc.Keys)) // key id -> attr.name
	for _, k := range doc.Keys {
		names[k.ID] = k.AttrName
	}

	topo := &Topology{}
	for _, n := range doc.Graph.Nodes {
		host := HostNode{ID: n.ID}
		for _, d := range n.Data {
			switch names[d.Key] {
			case "bandwidth_up":
				v, err := strconv.ParseUint(d.Value, 10, 64)
				if err != nil {
					return nil, errors.Wrapf(err, "topology: node %s bandwidth_up", n.ID)
				}
				host.UpKbps = v
			case "bandwidth_down":
				v, err := strconv.ParseUint(d.Value, 10, 64)
				if err != nil {
					return nil, errors.Wrapf(err, "topology: node %s bandwidth_down", n.ID)
				}
				host.DownKbps = v
			}
		}
		topo.Hosts = append(topo.Hosts, host)
	}

	for _, e := range doc.Graph.Edges {
		link := LinkEdge{Src: e.Source, Dst: e.Target}
		for _, d := range e.Data {
			switch names[d.Key] {
			case "latency":
				dur, err := time.ParseDuration(d.Value)
				if err != nil {
					return nil, errors.Wrapf(err, "topology: edge %s->%s latency", e.Source, e.Target)
				}
				link.Latency = vtime.FromDuration(dur)
			case "loss":
				v, err := strconv.ParseFloat(d.Value, 64)
				if err != nil {
					return nil, errors.Wrapf(err, "topology: edge %s->%s loss", e.Source, e.Target)
				}
				link.LossProb = v
			case "jitter_seed":
				v, err := strconv.ParseInt(d.Value, 10, 64)
				if err != nil {
					return nil, errors.Wrapf(err, "topology: edge %s->%s jitter_seed", e.Source, e.Target)
				}
				link.JitterSeed = v
			}
		}
		topo.Links = append(topo.Links, link)
	}

	return topo, nil
}

// Build assigns a stable event.HostId to every HostNode in declaration
// order and populates a fresh network.Fabric with the resulting hosts and
// links, returning the id assignment so config.Build can attach matching
// host.Host values.
func (t *Topology) Build() (*network.Fabric, map[string]event.HostId) {
	ids := make(map[string]event.HostId, len(t.Hosts))
	fabric := network.New()
	for i, h := range t.Hosts {
		id := event.HostId(i)
		ids[h.ID] = id
		fabric.AddHost(id)
	}
	for _, l := range t.Links {
		src, ok := ids[l.Src]
		if !ok {
			continue
		}
		dst, ok := ids[l.Dst]
		if !ok {
			continue
		}
		fabric.AddLink(src, dst, l.Link)
	}
	return fabric, ids
}
