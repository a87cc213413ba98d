package sim

import "aerosense-sim/internal/telemetry"

// Rotator walks the site catalog round-robin in id order. It remembers the id
// of the last site it moved past rather than an index, so sites added or
// removed between cycles never cause a repeat or a skip.
// Rotator is not safe for concurrent use; the simulator guards it with its mutex.
type Rotator struct {
	last    int64
	started bool
}

// Current returns the site with the smallest id greater than the last visited
// one, wrapping to the smallest id. It returns false when the catalog is empty.
func (r *Rotator) Current(sites []telemetry.Site) (telemetry.Site, bool) {
	if len(sites) == 0 {
		return telemetry.Site{}, false
	}
	first, next := -1, -1
	for i, s := range sites {
		if first < 0 || s.ID < sites[first].ID {
			first = i
		}
		if r.started && s.ID > r.last && (next < 0 || s.ID < sites[next].ID) {
			next = i
		}
	}
	if next < 0 {
		return sites[first], true
	}
	return sites[next], true
}

// Advance marks site as visited; the following Current returns its successor.
func (r *Rotator) Advance(site telemetry.Site) {
	r.last = site.ID
	r.started = true
}

// Last returns the id of the last visited site, or false before the first Advance.
func (r *Rotator) Last() (int64, bool) {
	return r.last, r.started
}
