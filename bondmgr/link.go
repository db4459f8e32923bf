package bondmgr

import "github.com/encodeous/nybond/bondlink"

// ResolveInterface reports which policy alias, if any, claims ifname — the
// reverse of the alias -> link-set map, used when a newly discovered path
// arrives on an interface and the manager must find the right bond to hand
// it to.
func (m *Manager) ResolveInterface(ifname string) (alias string, link *bondlink.Link, ok bool) {
	m.linksMu.RLock()
	defer m.linksMu.RUnlock()
	for a, set := range m.links {
		if l := set.ByInterface(ifname); l != nil {
			return a, l, true
		}
	}
	return "", nil, false
}

// Aliases lists every policy alias with a registered link set.
func (m *Manager) Aliases() []string {
	m.linksMu.RLock()
	defer m.linksMu.RUnlock()
	out := make([]string, 0, len(m.links))
	for a := range m.links {
		out = append(out, a)
	}
	return out
}
