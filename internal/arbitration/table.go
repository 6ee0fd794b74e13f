package arbitration

import (
	"fmt"
	"slices"
	"sort"
)

// Owner identifies the execution holding a set of channels.
type Owner struct {
	ID         string `json:"id"`
	SequenceID string `json:"sequence_id"`
	Priority   int    `json:"priority"`
	Origin     string `json:"origin"`
}

// Request asks for every channel in Channels on behalf of Owner.
type Request struct {
	Owner    Owner
	Channels []string
}

// Plan is the outcome of a successful arbitration: the owners that must
// be preempted (each wholesale) before Request can be reserved.
type Plan struct {
	Request Request
	Preempt []Owner
}

// Table tracks which execution owns which channel. Each channel has at
// most one owner, and an owner's channels are always reserved and
// released together.
//
// A Table is owned by the control loop and is not safe for concurrent use.
type Table struct {
	owners   map[string]Owner
	holdings map[string][]string
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{
		owners:   make(map[string]Owner),
		holdings: make(map[string][]string),
	}
}

// Plan decides a request without changing the table. A channel held at
// equal or higher priority rejects the whole request with a *BusyError
// naming the first such channel in sorted order. Otherwise every owner
// that holds any requested channel is listed for preemption.
func (t *Table) Plan(req Request) (Plan, error) {
	channels := slices.Clone(req.Channels)
	sort.Strings(channels)
	for i := 1; i < len(channels); i++ {
		if channels[i] == channels[i-1] {
			return Plan{}, fmt.Errorf("%w: channel %s requested twice", ErrArbitrationConflict, channels[i])
		}
	}
	if _, held := t.holdings[req.Owner.ID]; held {
		return Plan{}, fmt.Errorf("%w: owner %s already holds channels", ErrArbitrationConflict, req.Owner.ID)
	}

	var preempt []Owner
	seen := make(map[string]bool)
	for _, ch := range channels {
		cur, ok := t.owners[ch]
		if !ok {
			continue
		}
		if cur.Priority >= req.Owner.Priority {
			return Plan{}, &BusyError{Channel: ch, Owner: cur}
		}
		if !seen[cur.ID] {
			seen[cur.ID] = true
			preempt = append(preempt, cur)
		}
	}

	req.Channels = channels
	return Plan{Request: req, Preempt: preempt}, nil
}

// Apply commits a plan: it releases every preempted owner in full and
// reserves all requested channels. It validates first and changes
// nothing on error.
func (t *Table) Apply(p Plan) error {
	leaving := make(map[string]bool, len(p.Preempt))
	for _, o := range p.Preempt {
		if _, ok := t.holdings[o.ID]; !ok {
			return fmt.Errorf("%w: preempted owner %s no longer holds channels", ErrArbitrationConflict, o.ID)
		}
		leaving[o.ID] = true
	}
	for _, ch := range p.Request.Channels {
		if cur, ok := t.owners[ch]; ok && !leaving[cur.ID] {
			return fmt.Errorf("%w: channel %s taken by %s since planning", ErrArbitrationConflict, ch, cur.ID)
		}
	}

	for _, o := range p.Preempt {
		t.Release(o.ID)
	}
	if len(p.Request.Channels) == 0 {
		return nil
	}
	for _, ch := range p.Request.Channels {
		t.owners[ch] = p.Request.Owner
	}
	t.holdings[p.Request.Owner.ID] = slices.Clone(p.Request.Channels)
	return nil
}

// Release frees every channel held by ownerID and returns them.
func (t *Table) Release(ownerID string) []string {
	channels, ok := t.holdings[ownerID]
	if !ok {
		return nil
	}
	for _, ch := range channels {
		delete(t.owners, ch)
	}
	delete(t.holdings, ownerID)
	return channels
}

// ReleaseAll empties the table.
func (t *Table) ReleaseAll() {
	clear(t.owners)
	clear(t.holdings)
}

// Owner returns the owner of channel.
func (t *Table) Owner(channel string) (Owner, bool) {
	o, ok := t.owners[channel]
	return o, ok
}

// Holdings returns the channels held by ownerID, sorted.
func (t *Table) Holdings(ownerID string) []string {
	return slices.Clone(t.holdings[ownerID])
}

// Owners returns a copy of the channel to owner map.
func (t *Table) Owners() map[string]Owner {
	out := make(map[string]Owner, len(t.owners))
	for ch, o := range t.owners {
		out[ch] = o
	}
	return out
}

// Check verifies that the two indexes agree. It is used by tests and
// costs O(channels).
func (t *Table) Check() error {
	count := 0
	for id, channels := range t.holdings {
		for _, ch := range channels {
			if t.owners[ch].ID != id {
				return fmt.Errorf("channel %s listed for %s but owned by %q", ch, id, t.owners[ch].ID)
			}
			count++
		}
	}
	if count != len(t.owners) {
		return fmt.Errorf("%d owned channels but %d held", len(t.owners), count)
	}
	return nil
}
