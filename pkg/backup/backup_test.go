package backup

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourorg/config-generator/pkg/catalog"
	"github.com/yourorg/config-generator/pkg/db/dbtest"
	"github.com/yourorg/config-generator/pkg/db/models"
	"github.com/yourorg/config-generator/pkg/template"
)

func seed(t *testing.T) *Service {
	t.Helper()
	ctx := context.Background()
	conn := dbtest.New(t)
	logger := zap.NewNop()

	cat := catalog.NewManager(conn, logger)
	_, err := cat.Add(ctx, catalog.HostTypes, "Server", "bare metal")
	require.NoError(t, err)
	_, err = cat.Add(ctx, catalog.PortTypes, "Access", "")
	require.NoError(t, err)
	_, err = cat.Add(ctx, catalog.SwitchOSTypes, "NX-OS", "")
	require.NoError(t, err)

	templates := template.NewManager(conn, logger)
	tpl, err := templates.Create(ctx, &template.CreateTemplateRequest{
		Name:            "Leaf Access",
		HostType:        "Server",
		PortType:        "Access",
		SwitchOS:        "NX-OS",
		TemplateContent: "interface {{ switch_port }}",
		Fields: []template.FieldDefinition{
			{FieldName: "vlan", FieldType: models.FieldTypeInteger},
		},
	})
	require.NoError(t, err)

	_, err = templates.CreateVersion(ctx, tpl.ID, &template.CreateVersionRequest{TemplateContent: "v2 body"})
	require.NoError(t, err)
	_, err = templates.CreateVersion(ctx, tpl.ID, &template.CreateVersionRequest{TemplateContent: "v3 body"})
	require.NoError(t, err)
	require.NoError(t, templates.SetActiveVersion(ctx, tpl.ID, 2))
	require.NoError(t, templates.DeleteVersion(ctx, tpl.ID, 3))

	return NewService(conn, logger)
}

func TestExport(t *testing.T) {
	snap, err := seed(t).Export(context.Background())
	require.NoError(t, err)

	assert.Equal(t, FormatVersion, snap.FormatVersion)
	assert.Equal(t, []HostType{{Name: "Server", Description: "bare metal"}}, snap.HostTypes)
	assert.Equal(t, []string{"Access"}, snap.PortTypes)
	assert.Equal(t, []string{"NX-OS"}, snap.SwitchOSTypes)

	require.Len(t, snap.Templates, 1)
	ts := snap.Templates[0]
	assert.Equal(t, "Leaf Access", ts.Name)
	assert.Equal(t, 2, ts.ActiveVersion)
	assert.Equal(t, 3, ts.LastVersion)
	require.Len(t, ts.Versions, 2)
	assert.Equal(t, 1, ts.Versions[0].Version)
	assert.Equal(t, "interface {{ switch_port }}", ts.Versions[0].TemplateContent)
	assert.Equal(t, "v2 body", ts.Versions[1].TemplateContent)
	require.Len(t, ts.Fields, 1)
	assert.Equal(t, "vlan", ts.Fields[0].FieldName)
	assert.True(t, ts.Fields[0].Required)
}

func TestImport_RoundTrip(t *testing.T) {
	ctx := context.Background()
	snap, err := seed(t).Export(ctx)
	require.NoError(t, err)

	for _, format := range []Format{FormatJSON, FormatYAML} {
		t.Run(string(format), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Encode(&buf, snap, format))
			decoded, err := Decode(&buf, format)
			require.NoError(t, err)

			conn := dbtest.New(t)
			svc := NewService(conn, zap.NewNop())
			stats, err := svc.Import(ctx, decoded, Options{})
			require.NoError(t, err)
			assert.Equal(t, &Stats{Templates: 1, Versions: 2, Fields: 1, CatalogAdded: 3}, stats)

			templates := template.NewManager(conn, zap.NewNop())
			detail, err := templates.GetByName(ctx, "Leaf Access")
			require.NoError(t, err)
			assert.Equal(t, 2, detail.ActiveVersion)
			assert.Equal(t, "v2 body", detail.TemplateContent)

			versions, err := templates.ListVersions(ctx, detail.ID)
			require.NoError(t, err)
			require.Len(t, versions, 2)
			active := 0
			for _, v := range versions {
				if v.IsActive {
					active++
					assert.Equal(t, 2, v.Version)
				}
			}
			assert.Equal(t, 1, active)

			// deleted numbers stay retired after import
			next, err := templates.CreateVersion(ctx, detail.ID, &template.CreateVersionRequest{TemplateContent: "x"})
			require.NoError(t, err)
			assert.Equal(t, 4, next)
		})
	}
}

func TestImport_EveryCatalog(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.New(t)
	svc := NewService(conn, zap.NewNop())

	snap := &Snapshot{
		FormatVersion: FormatVersion,
		HostTypes:     []HostType{{Name: "Leaf", Description: "leaf switches"}, {Name: "Server"}},
		PortTypes:     []string{"Copper", "Fiber"},
		SwitchOSTypes: []string{"NX-OS", "EOS"},
	}

	stats, err := svc.Import(ctx, snap, Options{})
	require.NoError(t, err)
	assert.Equal(t, 6, stats.CatalogAdded)

	cat := catalog.NewManager(conn, zap.NewNop())
	names, err := cat.Names(ctx, catalog.PortTypes)
	require.NoError(t, err)
	assert.Equal(t, []string{"Copper", "Fiber"}, names)
	names, err = cat.Names(ctx, catalog.SwitchOSTypes)
	require.NoError(t, err)
	assert.Equal(t, []string{"EOS", "NX-OS"}, names)

	// existing names are skipped, new ones added
	snap.PortTypes = append(snap.PortTypes, "DAC")
	stats, err = svc.Import(ctx, snap, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CatalogAdded)

	exported, err := svc.Export(ctx)
	require.NoError(t, err)
	assert.Equal(t, []HostType{{Name: "Leaf", Description: "leaf switches"}, {Name: "Server"}}, exported.HostTypes)
	assert.Equal(t, []string{"Copper", "DAC", "Fiber"}, exported.PortTypes)
	assert.Equal(t, []string{"EOS", "NX-OS"}, exported.SwitchOSTypes)
}

func TestImport_DuplicateCombination(t *testing.T) {
	ctx := context.Background()
	svc := seed(t)
	snap, err := svc.Export(ctx)
	require.NoError(t, err)

	_, err = svc.Import(ctx, snap, Options{})
	assert.ErrorIs(t, err, template.ErrDuplicateCombination)

	stats, err := svc.Import(ctx, snap, Options{Replace: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Templates)

	again, err := svc.Export(ctx)
	require.NoError(t, err)
	assert.Len(t, again.Templates, 1)
	assert.Len(t, again.HostTypes, 1)
}

func TestValidate(t *testing.T) {
	valid := func() *Snapshot {
		return &Snapshot{
			FormatVersion: FormatVersion,
			Templates: []TemplateSnapshot{{
				Name: "a", HostType: "h", PortType: "p", SwitchOS: "o",
				ActiveVersion: 1,
				Versions:      []VersionSnapshot{{Version: 1, VersionName: "v1"}},
			}},
		}
	}
	require.NoError(t, Validate(valid()))

	cases := map[string]func(s *Snapshot){
		"nil":            nil,
		"newer format":   func(s *Snapshot) { s.FormatVersion = FormatVersion + 1 },
		"missing triple": func(s *Snapshot) { s.Templates[0].SwitchOS = "" },
		"no versions":    func(s *Snapshot) { s.Templates[0].Versions = nil },
		"repeated":       func(s *Snapshot) { s.Templates[0].Versions = append(s.Templates[0].Versions, VersionSnapshot{Version: 1}) },
		"zero version":   func(s *Snapshot) { s.Templates[0].Versions[0].Version = 0 },
		"missing active": func(s *Snapshot) { s.Templates[0].ActiveVersion = 2 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			var snap *Snapshot
			if mutate != nil {
				snap = valid()
				mutate(snap)
			}
			assert.ErrorIs(t, Validate(snap), ErrInvalidSnapshot)
		})
	}
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode(bytes.NewBufferString("{"), FormatJSON)
	assert.ErrorIs(t, err, ErrInvalidSnapshot)

	_, err = Decode(bytes.NewBufferString(`{"unknown": 1}`), FormatJSON)
	assert.ErrorIs(t, err, ErrInvalidSnapshot)
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatFromPath("state.YML"))
	assert.Equal(t, FormatYAML, FormatFromPath("/tmp/state.yaml"))
	assert.Equal(t, FormatJSON, FormatFromPath("state.json"))
	assert.Equal(t, FormatJSON, FormatFromPath("state"))

	f, err := ParseFormat("YAML")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)
	_, err = ParseFormat("xml")
	assert.Error(t, err)
}
