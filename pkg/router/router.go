// Package router resolves an Envelope's (protocol, target) pair to its
// registered handler.
//
// A Router snapshots a frozen registry at construction. The table is never
// written afterwards, so a single Router is shared by every concurrent
// dispatch without locking.
package router

import (
	"cmp"
	"slices"

	"github.com/rhuss/omnigate/pkg/api"
	"github.com/rhuss/omnigate/pkg/registry"
)

// Router performs exact-match handler lookup.
type Router struct {
	table map[registry.Key]*registry.Entry
}

// New freezes reg and builds a Router over its contents.
func New(reg *registry.Registry) *Router {
	return &Router{table: reg.Freeze()}
}

// Resolve returns the entry registered for (protocol, target), or
// api.ErrNotFound.
func (r *Router) Resolve(protocol api.Protocol, target string) (*registry.Entry, error) {
	entry, ok := r.table[registry.Key{Protocol: protocol, Target: target}]
	if !ok {
		return nil, api.NotFoundf("no handler for %s %s", protocol, target)
	}
	return entry, nil
}

// Route describes one registered handler for listings.
type Route struct {
	Protocol    api.Protocol `json:"protocol"`
	Target      string       `json:"target"`
	Timeout     string       `json:"timeout,omitempty"`
	Description string       `json:"description,omitempty"`
}

// Routes returns every registered route sorted by protocol, then target.
func (r *Router) Routes() []Route {
	routes := make([]Route, 0, len(r.table))
	for _, e := range r.table {
		rt := Route{
			Protocol:    e.Key.Protocol,
			Target:      e.Key.Target,
			Description: e.Description,
		}
		if e.Timeout > 0 {
			rt.Timeout = e.Timeout.String()
		}
		routes = append(routes, rt)
	}
	slices.SortFunc(routes, func(a, b Route) int {
		if c := cmp.Compare(a.Protocol, b.Protocol); c != 0 {
			return c
		}
		return cmp.Compare(a.Target, b.Target)
	})
	return routes
}

// Len returns the number of routes.
func (r *Router) Len() int { return len(r.table) }
