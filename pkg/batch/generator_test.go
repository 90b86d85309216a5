package batch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourorg/config-generator/pkg/db/models"
	"github.com/yourorg/config-generator/pkg/render"
	"github.com/yourorg/config-generator/pkg/template"
)

type fakeResolver struct {
	templates map[string]*template.Detail
	err       error
	calls     []string
}

func (f *fakeResolver) add(id uint, name, content string) {
	if f.templates == nil {
		f.templates = make(map[string]*template.Detail)
	}
	f.templates[strings.ToLower(name)] = &template.Detail{
		Template:        models.Template{ID: id, Name: name, ActiveVersion: 1},
		TemplateContent: content,
	}
}

func (f *fakeResolver) GetByName(_ context.Context, name string) (*template.Detail, error) {
	f.calls = append(f.calls, name)
	if f.err != nil {
		return nil, f.err
	}
	d, ok := f.templates[strings.ToLower(name)]
	if !ok {
		return nil, template.ErrTemplateNotFound
	}
	return d, nil
}

type recordingObserver struct {
	mu      sync.Mutex
	started int
	skipped []int
	groups  []GroupInfo
	final   *Result
}

func (r *recordingObserver) BatchStarted(context.Context, BatchInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
}

func (r *recordingObserver) RowSkipped(_ context.Context, _ BatchInfo, rowIndex int, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped = append(r.skipped, rowIndex)
}

func (r *recordingObserver) GroupFinished(_ context.Context, _ BatchInfo, group GroupInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups = append(r.groups, group)
}

func (r *recordingObserver) BatchFinished(_ context.Context, _ BatchInfo, result *Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.final = result
}

func newTestGenerator(resolver TemplateResolver, observer Observer) *Generator {
	return NewGenerator(resolver, render.NewEngine(render.DefaultOptions()), observer, DefaultOptions(), zap.NewNop())
}

func exampleRows() []Row {
	return []Row{
		NewRow("template", "A", "switch_name", "s1", "switch_port", "1", "x", "foo"),
		NewRow("template", "A", "switch_name", "s2", "switch_port", "2", "x", "bar"),
		NewRow("template", "B", "switch_name", "", "switch_port", "1"),
	}
}

func TestGenerate_GroupsAndSkips(t *testing.T) {
	resolver := &fakeResolver{}
	resolver.add(7, "A", "{% for p in ports %}{{ p.x }}\n{% endfor %}")
	obs := &recordingObserver{}

	result, err := newTestGenerator(resolver, obs).Generate(context.Background(), exampleRows())
	require.NoError(t, err)

	require.Len(t, result.Results, 1)
	out := result.Results[0]
	assert.True(t, out.Success)
	assert.Equal(t, "A", out.TemplateName)
	assert.Equal(t, uint(7), out.TemplateID)
	assert.Equal(t, 1, out.Version)
	assert.Equal(t, 2, out.RowCount)
	assert.Equal(t, "foo\nbar\n", out.Config)
	assert.Equal(t, []string{"s1", "s2"}, out.Switches)

	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 0, result.FailedCount)
	assert.Equal(t, 1, result.SkippedCount)
	assert.NotEmpty(t, result.BatchID)

	// the skipped B row never reaches the store
	assert.Equal(t, []string{"A"}, resolver.calls)

	assert.Equal(t, 1, obs.started)
	assert.Equal(t, []int{3}, obs.skipped)
	require.Len(t, obs.groups, 1)
	assert.Empty(t, obs.groups[0].Error)
	assert.Same(t, result, obs.final)
}

func TestGenerate_TemplateNotFoundFansOut(t *testing.T) {
	resolver := &fakeResolver{}
	resolver.add(1, "A", "hostname {{ switch_name }}")

	rows := []Row{
		NewRow("template", "B", "switch_name", "s1", "switch_port", "1"),
		NewRow("template", "A", "switch_name", "s9", "switch_port", "9"),
		NewRow("template", " B ", "switch_name", "s2", "switch_port", "2"),
	}
	result, err := newTestGenerator(resolver, nil).Generate(context.Background(), rows)
	require.NoError(t, err)

	require.Len(t, result.Results, 3)

	// groups in first-seen order, failures one per row in upload order
	b1, b2, a := result.Results[0], result.Results[1], result.Results[2]
	assert.False(t, b1.Success)
	assert.Equal(t, "Template 'B' not found", b1.Error)
	assert.Equal(t, 1, b1.RowIndex)
	assert.Equal(t, "s1", b1.SwitchName)
	assert.Equal(t, "1", b1.SwitchPort)
	require.NotNil(t, b1.Row)
	assert.Equal(t, []string{"template", "switch_name", "switch_port"}, b1.Row.Keys())

	assert.False(t, b2.Success)
	assert.Equal(t, "Template 'B' not found", b2.Error)
	assert.Equal(t, 3, b2.RowIndex)

	assert.True(t, a.Success)
	assert.Equal(t, "hostname s9", a.Config)

	assert.Equal(t, 1, result.SuccessCount)
	assert.Equal(t, 2, result.FailedCount)
	assert.Equal(t, 0, result.SkippedCount)
}

func TestGenerate_GroupKeyIsCaseSensitive(t *testing.T) {
	resolver := &fakeResolver{}
	resolver.add(1, "Leaf", "{{ ports|length }}")

	rows := []Row{
		NewRow("template", "Leaf", "switch_name", "s1", "switch_port", "1"),
		NewRow("template", "leaf", "switch_name", "s2", "switch_port", "2"),
	}
	result, err := newTestGenerator(resolver, nil).Generate(context.Background(), rows)
	require.NoError(t, err)

	// two groups, both resolved case-insensitively to the same template
	require.Len(t, result.Results, 2)
	assert.Equal(t, "Leaf", result.Results[0].TemplateName)
	assert.Equal(t, "leaf", result.Results[1].TemplateName)
	assert.Equal(t, "1", result.Results[0].Config)
	assert.Equal(t, "1", result.Results[1].Config)
}

func TestGenerate_RenderFailureFansOut(t *testing.T) {
	resolver := &fakeResolver{}
	resolver.add(1, "A", "vlan {{ vlan.id }}")
	resolver.add(2, "C", "ok")
	obs := &recordingObserver{}

	rows := []Row{
		NewRow("template", "A", "switch_name", "s1", "switch_port", "1"),
		NewRow("template", "A", "switch_name", "s2", "switch_port", "2"),
		NewRow("template", "C", "switch_name", "s3", "switch_port", "3"),
	}
	result, err := newTestGenerator(resolver, obs).Generate(context.Background(), rows)
	require.NoError(t, err)

	require.Len(t, result.Results, 3)
	for _, o := range result.Results[:2] {
		assert.False(t, o.Success)
		assert.Equal(t, render.KindUndefined, o.ErrorKind)
		assert.Contains(t, o.Error, "vlan")
	}
	assert.Equal(t, 1, result.Results[0].RowIndex)
	assert.Equal(t, 2, result.Results[1].RowIndex)
	assert.True(t, result.Results[2].Success)

	assert.Equal(t, 1, result.SuccessCount)
	assert.Equal(t, 2, result.FailedCount)

	require.Len(t, obs.groups, 2)
	assert.Equal(t, render.KindUndefined, obs.groups[0].ErrorKind)
	assert.Equal(t, 2, obs.groups[0].Rows)
}

func TestGenerate_FirstRowWinsForScalars(t *testing.T) {
	resolver := &fakeResolver{}
	resolver.add(1, "A", "{{ switch_name }}:{% for s in switches %}{{ s.switch_name }},{% endfor %}")

	rows := []Row{
		NewRow("template", "A", "switch_name", "s1", "switch_port", "1"),
		NewRow("template", "A", "switch_name", "s2", "switch_port", "2"),
	}
	result, err := newTestGenerator(resolver, nil).Generate(context.Background(), rows)
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Equal(t, "s1:s1,s2,", result.Results[0].Config)
}

func TestGenerate_LookupErrorFansOut(t *testing.T) {
	resolver := &fakeResolver{err: errors.New("connection refused")}
	rows := []Row{NewRow("template", "A", "switch_name", "s1", "switch_port", "1")}

	result, err := newTestGenerator(resolver, nil).Generate(context.Background(), rows)
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Contains(t, result.Results[0].Error, "connection refused")
	assert.Equal(t, 1, result.FailedCount)
}

func TestGenerate_NoRows(t *testing.T) {
	g := newTestGenerator(&fakeResolver{}, nil)

	_, err := g.Generate(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoRows)

	_, err = g.Generate(context.Background(), []Row{})
	assert.ErrorIs(t, err, ErrNoRows)
}

func TestGenerate_AllRowsSkipped(t *testing.T) {
	rows := []Row{
		NewRow("template", "", "switch_name", "s1", "switch_port", "1"),
		NewRow("template", "A", "switch_name", "s1"),
	}
	result, err := newTestGenerator(&fakeResolver{}, nil).Generate(context.Background(), rows)
	require.NoError(t, err)
	assert.Empty(t, result.Results)
	assert.Equal(t, 2, result.SkippedCount)
}

func TestGenerate_NumericIdentityFields(t *testing.T) {
	resolver := &fakeResolver{}
	resolver.add(1, "A", "port {{ switch_port }}")
	rows := []Row{NewRow("template", "A", "switch_name", "s1", "switch_port", 48)}

	result, err := newTestGenerator(resolver, nil).Generate(context.Background(), rows)
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Equal(t, "port 48", result.Results[0].Config)
}

func TestGenerate_CancelledBetweenGroups(t *testing.T) {
	resolver := &fakeResolver{}
	resolver.add(1, "A", "a")
	resolver.add(2, "B", "b")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rows := []Row{
		NewRow("template", "A", "switch_name", "s1", "switch_port", "1"),
		NewRow("template", "B", "switch_name", "s2", "switch_port", "2"),
	}
	result, err := newTestGenerator(resolver, nil).Generate(ctx, rows)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.Empty(t, result.Results)
	assert.Empty(t, resolver.calls)
}

func TestGenerate_CustomAliases(t *testing.T) {
	resolver := &fakeResolver{}
	resolver.add(1, "A", "{% for i in interfaces %}{{ i.port }} {% endfor %}")

	opts := Options{TemplateField: "tpl", SwitchNameField: "device", SwitchPortField: "port", PortsAlias: "interfaces", SwitchesAlias: "devices"}
	g := NewGenerator(resolver, render.NewEngine(render.DefaultOptions()), nil, opts, zap.NewNop())

	rows := []Row{
		NewRow("tpl", "A", "device", "d1", "port", "e1"),
		NewRow("tpl", "A", "device", "d1", "port", "e2"),
	}
	result, err := g.Generate(context.Background(), rows)
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Equal(t, "e1 e2 ", result.Results[0].Config)
	assert.Equal(t, []string{"d1"}, result.Results[0].Switches)
}

func TestBundle(t *testing.T) {
	rule := "! " + strings.Repeat("=", 44) + "\n"
	results := []Outcome{
		{Success: true, TemplateName: "A", Config: "hostname s1", Switches: []string{"s1", "s2"}},
		{Success: false, TemplateName: "B", Error: "Template 'B' not found"},
		{Success: true, TemplateName: "C", Config: "x <y> & z", Switches: []string{"s3"}},
	}

	out, err := Bundle(results)
	require.NoError(t, err)

	want := rule + "! Config #1 - s1, s2\n! Template: A\n" + rule + "\nhostname s1\n\n" +
		"\n" +
		rule + "! Config #2 - s3\n! Template: C\n" + rule + "\nx <y> & z\n\n"
	assert.Equal(t, want, out)

	out, err = Bundle(results[1:2])
	require.NoError(t, err)
	assert.Empty(t, out)
}
