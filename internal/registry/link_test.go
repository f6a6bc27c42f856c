package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLink(t *testing.T) {
	l := NewLink("zone_endpoints")

	l.Add("z1", "e1")
	l.Add("z1", "e2")
	l.Add("z2", "e1")
	l.Add("z1", "e1")

	assert.Equal(t, 3, l.Len())
	assert.True(t, l.Exists("z1", "e2"))
	assert.False(t, l.Exists("z2", "e2"))
	assert.Equal(t, []string{"e1", "e2"}, l.ChildrenOf("z1"))
	assert.Equal(t, []string{"z1", "z2"}, l.ParentsOf("e1"))

	assert.Equal(t, 2, l.RenameA("z1", "zone"))
	assert.Equal(t, []string{"e1", "e2"}, l.ChildrenOf("zone"))
	assert.Empty(t, l.ChildrenOf("z1"))

	assert.Equal(t, 2, l.RenameB("e1", "endpoint"))
	assert.Equal(t, []string{"zone", "z2"}, l.ParentsOf("endpoint"))

	assert.True(t, l.Remove("z2", "endpoint"))
	assert.False(t, l.Remove("z2", "endpoint"))
	assert.Equal(t, 2, l.Len())

	l.Clear()
	assert.Equal(t, 0, l.Len())
}

func TestLinkRenameCollapsesDuplicates(t *testing.T) {
	l := NewLink("endpoint_ports")
	l.Add("e1", "p1")
	l.Add("e2", "p1")

	assert.Equal(t, 1, l.RenameA("e1", "e2"))
	assert.Equal(t, []Edge{{A: "e2", B: "p1"}}, l.Edges())
	assert.Equal(t, 0, l.RenameA("e2", "e2"))
}
