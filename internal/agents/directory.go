// ABOUTME: In-memory agent directory with least-loaded assignment selection
// ABOUTME: Loads the roster from a TOML file; tracks per-agent live conversation counts

package agents

import (
	"errors"
	"fmt"
	"sync"

	"github.com/BurntSushi/toml"
)

// ErrUnknownAgent is returned for operations on an agent not in the roster.
var ErrUnknownAgent = errors.New("unknown agent")

// DefaultMaxActive is the per-agent concurrent conversation cap.
const DefaultMaxActive = 5

// Agent statuses. Only online agents receive new assignments.
const (
	StatusOnline  = "online"
	StatusBusy    = "busy"
	StatusOffline = "offline"
)

// Agent is one support agent as tracked by the directory. Agents belong
// to exactly one business; selection and availability never cross tenants.
type Agent struct {
	ID                  string `toml:"id" json:"id"`
	BusinessID          string `toml:"business_id" json:"businessId"`
	Name                string `toml:"name" json:"name"`
	Email               string `toml:"email" json:"email"`
	Status              string `toml:"status" json:"status"`
	ActiveConversations int    `toml:"-" json:"activeConversations"`
}

// roster is the on-disk TOML shape.
type roster struct {
	Agents []Agent `toml:"agents"`
}

// Availability summarizes whether a human is reachable right now and how
// long a customer should expect to wait.
type Availability struct {
	Available         bool   `json:"available"`
	AgentCount        int    `json:"agentCount"`
	EstimatedWaitTime string `json:"estimatedWaitTime"`
}

// Directory holds the agent roster and live load counts. Load counts are
// process-local: they reflect assignments made through this directory,
// not any external state.
type Directory struct {
	mu        sync.Mutex
	agents    []*Agent // roster order, preserved for stable tie-breaks
	byID      map[string]*Agent
	maxActive int
}

// NewDirectory creates a directory over the given agents. Zero maxActive
// means DefaultMaxActive.
func NewDirectory(agents []Agent, maxActive int) *Directory {
	if maxActive <= 0 {
		maxActive = DefaultMaxActive
	}
	d := &Directory{
		byID:      make(map[string]*Agent),
		maxActive: maxActive,
	}
	for i := range agents {
		a := agents[i]
		if a.Status == "" {
			a.Status = StatusOffline
		}
		d.agents = append(d.agents, &a)
		d.byID[a.ID] = &a
	}
	return d
}

// LoadDirectory reads the TOML roster at path and builds a directory.
func LoadDirectory(path string, maxActive int) (*Directory, error) {
	var r roster
	if _, err := toml.DecodeFile(path, &r); err != nil {
		return nil, fmt.Errorf("loading agent roster: %w", err)
	}
	for _, a := range r.Agents {
		if a.ID == "" || a.Name == "" || a.BusinessID == "" {
			return nil, fmt.Errorf("loading agent roster: agent entries need id, name, and business_id")
		}
	}
	return NewDirectory(r.Agents, maxActive), nil
}

// Get returns a snapshot of the agent with the given ID.
func (d *Directory) Get(id string) (*Agent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	a, ok := d.byID[id]
	if !ok {
		return nil, ErrUnknownAgent
	}
	snapshot := *a
	return &snapshot, nil
}

// List returns a snapshot of a business's agents in roster order.
func (d *Directory) List(businessID string) []*Agent {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]*Agent, 0, len(d.agents))
	for _, a := range d.agents {
		if a.BusinessID != businessID {
			continue
		}
		snapshot := *a
		out = append(out, &snapshot)
	}
	return out
}

// SetStatus updates an agent's status. Going offline clears the live
// conversation count so a stale count cannot block availability when the
// agent comes back.
func (d *Directory) SetStatus(id, status string) error {
	if status != StatusOnline && status != StatusBusy && status != StatusOffline {
		return fmt.Errorf("invalid agent status %q", status)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	a, ok := d.byID[id]
	if !ok {
		return ErrUnknownAgent
	}
	a.Status = status
	if status == StatusOffline {
		a.ActiveConversations = 0
	}
	return nil
}

// available reports assignment eligibility. Must be called with mu held.
func (d *Directory) available(a *Agent) bool {
	return a.Status == StatusOnline && a.ActiveConversations < d.maxActive
}

// FindBestAgent picks the business's available agent with the fewest
// active conversations. Ties go to the agent listed first in the roster.
// Returns nil when nobody can take the conversation.
func (d *Directory) FindBestAgent(businessID string) *Agent {
	d.mu.Lock()
	defer d.mu.Unlock()

	var best *Agent
	for _, a := range d.agents {
		if a.BusinessID != businessID || !d.available(a) {
			continue
		}
		if best == nil || a.ActiveConversations < best.ActiveConversations {
			best = a
		}
	}
	if best == nil {
		return nil
	}
	snapshot := *best
	return &snapshot
}

// Assign increments an agent's active conversation count.
func (d *Directory) Assign(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	a, ok := d.byID[id]
	if !ok {
		return ErrUnknownAgent
	}
	a.ActiveConversations++
	return nil
}

// Release decrements an agent's active conversation count, flooring at
// zero so double-release cannot corrupt availability.
func (d *Directory) Release(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	a, ok := d.byID[id]
	if !ok {
		return ErrUnknownAgent
	}
	if a.ActiveConversations > 0 {
		a.ActiveConversations--
	}
	return nil
}

// Availability reports how many of a business's agents can take a
// conversation right now and a wait estimate bucketed by that count.
func (d *Directory) Availability(businessID string) Availability {
	d.mu.Lock()
	defer d.mu.Unlock()

	count := 0
	for _, a := range d.agents {
		if a.BusinessID == businessID && d.available(a) {
			count++
		}
	}
	return Availability{
		Available:         count > 0,
		AgentCount:        count,
		EstimatedWaitTime: waitEstimate(count),
	}
}

// waitEstimate maps the available-agent count to a customer-facing
// wait-time bucket.
func waitEstimate(availableCount int) string {
	switch {
	case availableCount >= 3:
		return "1-3 minutes"
	case availableCount == 2:
		return "2-5 minutes"
	case availableCount == 1:
		return "3-7 minutes"
	default:
		return "10-15 minutes"
	}
}
