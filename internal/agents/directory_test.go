// ABOUTME: Tests for the agent directory
// ABOUTME: Covers least-loaded selection, the per-agent cap, and wait estimates

package agents

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAgents() []Agent {
	return []Agent{
		{ID: "agent-1", BusinessID: "biz-1", Name: "Sam", Email: "sam@example.com", Status: StatusOnline},
		{ID: "agent-2", BusinessID: "biz-1", Name: "Riley", Email: "riley@example.com", Status: StatusOnline},
		{ID: "agent-3", BusinessID: "biz-1", Name: "Jordan", Email: "jordan@example.com", Status: StatusOffline},
	}
}

func TestLoadDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.toml")
	rosterTOML := `
[[agents]]
id = "agent-1"
business_id = "biz-1"
name = "Sam"
email = "sam@example.com"
status = "online"

[[agents]]
id = "agent-2"
business_id = "biz-1"
name = "Riley"
email = "riley@example.com"
status = "offline"
`
	require.NoError(t, os.WriteFile(path, []byte(rosterTOML), 0o644))

	d, err := LoadDirectory(path, 0)
	require.NoError(t, err)

	a, err := d.Get("agent-1")
	require.NoError(t, err)
	assert.Equal(t, "Sam", a.Name)
	assert.Equal(t, StatusOnline, a.Status)

	a, err = d.Get("agent-2")
	require.NoError(t, err)
	assert.Equal(t, StatusOffline, a.Status)

	assert.Len(t, d.List("biz-1"), 2)
	assert.Empty(t, d.List("biz-2"))
}

func TestLoadDirectory_RejectsIncompleteEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.toml")
	require.NoError(t, os.WriteFile(path, []byte("[[agents]]\nname = \"Nameless\"\n"), 0o644))

	_, err := LoadDirectory(path, 0)
	assert.Error(t, err)

	// business_id is mandatory too
	require.NoError(t, os.WriteFile(path, []byte("[[agents]]\nid = \"a1\"\nname = \"Sam\"\n"), 0o644))
	_, err = LoadDirectory(path, 0)
	assert.Error(t, err)
}

func TestDirectory_FindBestAgent_LeastLoaded(t *testing.T) {
	d := NewDirectory(testAgents(), 0)
	require.NoError(t, d.Assign("agent-1"))
	require.NoError(t, d.Assign("agent-1"))
	require.NoError(t, d.Assign("agent-2"))

	best := d.FindBestAgent("biz-1")
	require.NotNil(t, best)
	assert.Equal(t, "agent-2", best.ID)
}

func TestDirectory_FindBestAgent_TieGoesToRosterOrder(t *testing.T) {
	d := NewDirectory(testAgents(), 0)

	best := d.FindBestAgent("biz-1")
	require.NotNil(t, best)
	assert.Equal(t, "agent-1", best.ID)
}

func TestDirectory_FindBestAgent_SkipsOfflineAndBusy(t *testing.T) {
	d := NewDirectory(testAgents(), 0)
	require.NoError(t, d.SetStatus("agent-1", StatusBusy))

	best := d.FindBestAgent("biz-1")
	require.NotNil(t, best)
	assert.Equal(t, "agent-2", best.ID)

	require.NoError(t, d.SetStatus("agent-2", StatusOffline))
	assert.Nil(t, d.FindBestAgent("biz-1"))
}

func TestDirectory_FindBestAgent_RespectsCap(t *testing.T) {
	d := NewDirectory([]Agent{{ID: "agent-1", BusinessID: "biz-1", Name: "Sam", Status: StatusOnline}}, 2)
	require.NoError(t, d.Assign("agent-1"))
	require.NoError(t, d.Assign("agent-1"))

	assert.Nil(t, d.FindBestAgent("biz-1"), "agent at the cap takes no more conversations")

	require.NoError(t, d.Release("agent-1"))
	assert.NotNil(t, d.FindBestAgent("biz-1"))
}

func TestDirectory_ScopedByBusiness(t *testing.T) {
	d := NewDirectory([]Agent{
		{ID: "agent-1", BusinessID: "biz-1", Name: "Sam", Status: StatusOnline},
		{ID: "agent-2", BusinessID: "biz-2", Name: "Riley", Status: StatusOnline},
	}, 0)

	best := d.FindBestAgent("biz-2")
	require.NotNil(t, best)
	assert.Equal(t, "agent-2", best.ID, "selection never crosses tenants")

	assert.Equal(t, 1, d.Availability("biz-1").AgentCount)
	assert.Equal(t, 1, d.Availability("biz-2").AgentCount)
	assert.False(t, d.Availability("biz-3").Available)
}

func TestDirectory_ReleaseFloorsAtZero(t *testing.T) {
	d := NewDirectory(testAgents(), 0)
	require.NoError(t, d.Release("agent-1"))
	require.NoError(t, d.Release("agent-1"))

	a, err := d.Get("agent-1")
	require.NoError(t, err)
	assert.Zero(t, a.ActiveConversations)
}

func TestDirectory_UnknownAgent(t *testing.T) {
	d := NewDirectory(testAgents(), 0)

	_, err := d.Get("nobody")
	assert.ErrorIs(t, err, ErrUnknownAgent)
	assert.ErrorIs(t, d.Assign("nobody"), ErrUnknownAgent)
	assert.ErrorIs(t, d.Release("nobody"), ErrUnknownAgent)
	assert.ErrorIs(t, d.SetStatus("nobody", StatusOnline), ErrUnknownAgent)
}

func TestDirectory_SetStatus_Invalid(t *testing.T) {
	d := NewDirectory(testAgents(), 0)
	assert.Error(t, d.SetStatus("agent-1", "vacation"))
}

func TestDirectory_SetStatus_OfflineClearsActiveCount(t *testing.T) {
	d := NewDirectory(testAgents(), 0)
	require.NoError(t, d.Assign("agent-1"))
	require.NoError(t, d.SetStatus("agent-1", StatusOffline))

	a, err := d.Get("agent-1")
	require.NoError(t, err)
	assert.Zero(t, a.ActiveConversations, "going offline releases the live count")

	require.NoError(t, d.SetStatus("agent-1", StatusOnline))
	best := d.FindBestAgent("biz-1")
	require.NotNil(t, best)
	assert.Equal(t, "agent-1", best.ID, "no stale count blocks reassignment")
}

func TestDirectory_Availability(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(d *Directory)
		available bool
		count     int
		wait      string
	}{
		{
			name:      "two online agents",
			setup:     func(d *Directory) {},
			available: true,
			count:     2,
			wait:      "2-5 minutes",
		},
		{
			name: "one available after one goes busy",
			setup: func(d *Directory) {
				_ = d.SetStatus("agent-1", StatusBusy)
			},
			available: true,
			count:     1,
			wait:      "3-7 minutes",
		},
		{
			name: "three or more online",
			setup: func(d *Directory) {
				_ = d.SetStatus("agent-3", StatusOnline)
				_ = d.SetStatus("agent-1", StatusOnline)
			},
			available: true,
			count:     3,
			wait:      "1-3 minutes",
		},
		{
			name: "nobody available",
			setup: func(d *Directory) {
				_ = d.SetStatus("agent-1", StatusOffline)
				_ = d.SetStatus("agent-2", StatusOffline)
			},
			available: false,
			count:     0,
			wait:      "10-15 minutes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDirectory(testAgents(), 0)
			tt.setup(d)

			got := d.Availability("biz-1")
			assert.Equal(t, tt.available, got.Available)
			assert.Equal(t, tt.count, got.AgentCount)
			assert.Equal(t, tt.wait, got.EstimatedWaitTime)
		})
	}
}

func TestDirectory_AgentAtCapCountsAsUnavailable(t *testing.T) {
	d := NewDirectory([]Agent{
		{ID: "agent-1", BusinessID: "biz-1", Name: "Sam", Status: StatusOnline},
		{ID: "agent-2", BusinessID: "biz-1", Name: "Riley", Status: StatusOnline},
	}, 1)
	require.NoError(t, d.Assign("agent-1"))

	got := d.Availability("biz-1")
	assert.True(t, got.Available)
	assert.Equal(t, 1, got.AgentCount)
	assert.Equal(t, "3-7 minutes", got.EstimatedWaitTime)
}
