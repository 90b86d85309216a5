package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourorg/config-generator/pkg/db/dbtest"
)

func TestAddAndList(t *testing.T) {
	m := NewManager(dbtest.New(t), zap.NewNop())
	ctx := context.Background()

	for _, name := range []string{"Storage", "Compute", "Server"} {
		_, err := m.Add(ctx, HostTypes, name, "")
		require.NoError(t, err)
	}

	names, err := m.Names(ctx, HostTypes)
	require.NoError(t, err)
	assert.Equal(t, []string{"Compute", "Server", "Storage"}, names)

	// catalogs are independent
	names, err = m.Names(ctx, PortTypes)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestList_EveryKind(t *testing.T) {
	m := NewManager(dbtest.New(t), zap.NewNop())
	ctx := context.Background()

	for _, kind := range Kinds() {
		t.Run(string(kind), func(t *testing.T) {
			for _, name := range []string{"Zeta", "Alpha"} {
				entry, err := m.Add(ctx, kind, name, "described")
				require.NoError(t, err)
				assert.NotZero(t, entry.ID)
				assert.Equal(t, name, entry.Name)
			}

			entries, err := m.List(ctx, kind)
			require.NoError(t, err)
			require.Len(t, entries, 2)
			assert.Equal(t, "Alpha", entries[0].Name)
			assert.Equal(t, "Zeta", entries[1].Name)

			// only host types store a description
			if kind == HostTypes {
				assert.Equal(t, "described", entries[0].Description)
			} else {
				assert.Empty(t, entries[0].Description)
			}

			require.NoError(t, m.Remove(ctx, kind, "Alpha"))
			names, err := m.Names(ctx, kind)
			require.NoError(t, err)
			assert.Equal(t, []string{"Zeta"}, names)
		})
	}
}

func TestAdd_Duplicate(t *testing.T) {
	m := NewManager(dbtest.New(t), zap.NewNop())
	ctx := context.Background()

	entry, err := m.Add(ctx, SwitchOSTypes, "NX-OS", "")
	require.NoError(t, err)
	assert.NotZero(t, entry.ID)

	_, err = m.Add(ctx, SwitchOSTypes, " NX-OS ", "")
	assert.ErrorIs(t, err, ErrDuplicateName)

	_, err = m.Add(ctx, PortTypes, "NX-OS", "")
	assert.NoError(t, err)
}

func TestAdd_HostTypeDescription(t *testing.T) {
	m := NewManager(dbtest.New(t), zap.NewNop())
	ctx := context.Background()

	_, err := m.Add(ctx, HostTypes, "Server", "bare metal servers")
	require.NoError(t, err)

	entries, err := m.List(ctx, HostTypes)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "bare metal servers", entries[0].Description)

	_, err = m.Add(ctx, HostTypes, "  ", "")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestRemove(t *testing.T) {
	m := NewManager(dbtest.New(t), zap.NewNop())
	ctx := context.Background()

	_, err := m.Add(ctx, PortTypes, "Access", "")
	require.NoError(t, err)

	require.NoError(t, m.Remove(ctx, PortTypes, "Access"))
	assert.ErrorIs(t, m.Remove(ctx, PortTypes, "Access"), ErrNotFound)

	names, err := m.Names(ctx, PortTypes)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{
		"host-types":      HostTypes,
		"port_types":      PortTypes,
		"Switch-OS-Types": SwitchOSTypes,
	} {
		got, err := ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseKind("vendors")
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = NewManager(dbtest.New(t), zap.NewNop()).List(context.Background(), Kind("vendors"))
	assert.ErrorIs(t, err, ErrUnknownKind)
}
