// Package batch groups uploaded rows by target template and renders one
// configuration per group.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourorg/config-generator/pkg/render"
	"github.com/yourorg/config-generator/pkg/template"
)

// ErrNoRows is returned when a batch contains no rows at all
var ErrNoRows = errors.New("no rows to generate")

// Options names the row columns the generator reads and the context names
// it injects.
type Options struct {
	TemplateField   string `mapstructure:"template_field"`
	SwitchNameField string `mapstructure:"switch_name_field"`
	SwitchPortField string `mapstructure:"switch_port_field"`
	PortsAlias      string `mapstructure:"ports_alias"`
	SwitchesAlias   string `mapstructure:"switches_alias"`
}

// DefaultOptions returns the default column names and aliases
func DefaultOptions() Options {
	return Options{
		TemplateField:   "template",
		SwitchNameField: "switch_name",
		SwitchPortField: "switch_port",
		PortsAlias:      "ports",
		SwitchesAlias:   "switches",
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TemplateField == "" {
		o.TemplateField = d.TemplateField
	}
	if o.SwitchNameField == "" {
		o.SwitchNameField = d.SwitchNameField
	}
	if o.SwitchPortField == "" {
		o.SwitchPortField = d.SwitchPortField
	}
	if o.PortsAlias == "" {
		o.PortsAlias = d.PortsAlias
	}
	if o.SwitchesAlias == "" {
		o.SwitchesAlias = d.SwitchesAlias
	}
	return o
}

// TemplateResolver finds a template and its active content by name
type TemplateResolver interface {
	GetByName(ctx context.Context, name string) (*template.Detail, error)
}

// Renderer renders a template source against a context
type Renderer interface {
	Render(ctx context.Context, source string, vars map[string]any) (string, error)
}

// Outcome is one entry of a batch result. A successful group produces one
// outcome; a failed group produces one outcome per row.
type Outcome struct {
	Success      bool     `json:"success"`
	TemplateName string   `json:"template_name"`
	TemplateID   uint     `json:"template_id,omitempty"`
	Version      int      `json:"version,omitempty"`
	RowCount     int      `json:"row_count,omitempty"`
	Config       string   `json:"config,omitempty"`
	Switches     []string `json:"switches,omitempty"`

	RowIndex   int    `json:"row_index,omitempty"`
	SwitchName string `json:"switch_name,omitempty"`
	SwitchPort string `json:"switch_port,omitempty"`
	Error      string `json:"error,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`
	Row        *Row   `json:"row,omitempty"`
}

// Result is the outcome of a batch. Counts are row counts.
type Result struct {
	BatchID      string    `json:"batch_id"`
	Results      []Outcome `json:"results"`
	SuccessCount int       `json:"success_count"`
	FailedCount  int       `json:"failed_count"`
	SkippedCount int       `json:"skipped_count"`
}

// Successes returns the successful outcomes in result order
func (r *Result) Successes() []Outcome {
	var out []Outcome
	for _, o := range r.Results {
		if o.Success {
			out = append(out, o)
		}
	}
	return out
}

type indexedRow struct {
	index int // 1-based upload position
	row   Row
}

type group struct {
	name string
	rows []indexedRow
}

// Generator renders batches of rows
type Generator struct {
	templates TemplateResolver
	renderer  Renderer
	observer  Observer
	opts      Options
	logger    *zap.Logger
}

// NewGenerator creates a new batch generator. A nil observer discards
// events.
func NewGenerator(templates TemplateResolver, renderer Renderer, observer Observer, opts Options, logger *zap.Logger) *Generator {
	if observer == nil {
		observer = NopObserver{}
	}
	return &Generator{
		templates: templates,
		renderer:  renderer,
		observer:  observer,
		opts:      opts.withDefaults(),
		logger:    logger,
	}
}

// Options returns the effective column names and aliases
func (g *Generator) Options() Options {
	return g.opts
}

// Generate groups rows by template and renders each group once. A failing
// group never stops the batch. If ctx is cancelled between groups the
// partial result is returned together with ctx.Err().
func (g *Generator) Generate(ctx context.Context, rows []Row) (*Result, error) {
	if len(rows) == 0 {
		return nil, ErrNoRows
	}

	started := time.Now()
	result := &Result{BatchID: uuid.New().String(), Results: []Outcome{}}
	info := BatchInfo{ID: result.BatchID, Rows: len(rows)}
	g.observer.BatchStarted(ctx, info)

	groups := g.partition(ctx, info, rows, result)

	for i, grp := range groups {
		if err := ctx.Err(); err != nil {
			g.logger.Warn("batch cancelled",
				zap.String("batch_id", result.BatchID),
				zap.Int("pending_groups", len(groups)-i),
				zap.Error(err))
			info.Duration = time.Since(started)
			g.observer.BatchFinished(ctx, info, result)
			return result, err
		}
		g.renderGroup(ctx, info, grp, result)
	}

	info.Duration = time.Since(started)
	g.observer.BatchFinished(ctx, info, result)

	g.logger.Info("batch generated",
		zap.String("batch_id", result.BatchID),
		zap.Int("groups", len(groups)),
		zap.Int("success", result.SuccessCount),
		zap.Int("failed", result.FailedCount),
		zap.Int("skipped", result.SkippedCount),
		zap.Duration("duration", info.Duration))

	return result, nil
}

// partition drops incomplete rows and groups the rest by trimmed template
// name in first-seen order.
func (g *Generator) partition(ctx context.Context, info BatchInfo, rows []Row, result *Result) []*group {
	var groups []*group
	byName := make(map[string]*group)

	for i, row := range rows {
		index := i + 1
		name := row.String(g.opts.TemplateField)

		var missing string
		switch {
		case name == "":
			missing = g.opts.TemplateField
		case row.String(g.opts.SwitchNameField) == "":
			missing = g.opts.SwitchNameField
		case row.String(g.opts.SwitchPortField) == "":
			missing = g.opts.SwitchPortField
		}
		if missing != "" {
			result.SkippedCount++
			g.observer.RowSkipped(ctx, info, index, fmt.Sprintf("missing %s", missing))
			continue
		}

		grp, ok := byName[name]
		if !ok {
			grp = &group{name: name}
			byName[name] = grp
			groups = append(groups, grp)
		}
		grp.rows = append(grp.rows, indexedRow{index: index, row: row})
	}
	return groups
}

func (g *Generator) renderGroup(ctx context.Context, info BatchInfo, grp *group, result *Result) {
	started := time.Now()

	detail, err := g.templates.GetByName(ctx, grp.name)
	if err != nil {
		msg := fmt.Sprintf("Template '%s' not found", grp.name)
		if !errors.Is(err, template.ErrTemplateNotFound) {
			msg = fmt.Sprintf("Template '%s' lookup failed: %v", grp.name, err)
		}
		g.fail(ctx, info, grp, result, msg, "", started)
		return
	}

	output, err := g.renderer.Render(ctx, detail.TemplateContent, g.buildContext(grp))
	if err != nil {
		g.fail(ctx, info, grp, result, err.Error(), render.Kind(err), started)
		return
	}

	outcome := Outcome{
		Success:      true,
		TemplateName: grp.name,
		TemplateID:   detail.ID,
		Version:      detail.ActiveVersion,
		RowCount:     len(grp.rows),
		Config:       output,
		Switches:     g.switchNames(grp),
	}
	result.Results = append(result.Results, outcome)
	result.SuccessCount += len(grp.rows)

	g.observer.GroupFinished(ctx, info, GroupInfo{
		TemplateName: grp.name,
		TemplateID:   detail.ID,
		Version:      detail.ActiveVersion,
		Rows:         len(grp.rows),
		Duration:     time.Since(started),
	})
}

func (g *Generator) fail(ctx context.Context, info BatchInfo, grp *group, result *Result, msg, kind string, started time.Time) {
	for _, ir := range grp.rows {
		row := ir.row
		result.Results = append(result.Results, Outcome{
			Success:      false,
			TemplateName: grp.name,
			RowIndex:     ir.index,
			SwitchName:   row.String(g.opts.SwitchNameField),
			SwitchPort:   row.String(g.opts.SwitchPortField),
			Error:        msg,
			ErrorKind:    kind,
			Row:          &row,
		})
	}
	result.FailedCount += len(grp.rows)

	g.observer.GroupFinished(ctx, info, GroupInfo{
		TemplateName: grp.name,
		Rows:         len(grp.rows),
		Error:        msg,
		ErrorKind:    kind,
		Duration:     time.Since(started),
	})
}

// buildContext builds the shared rendering context of a group: the first row's
// columns plus every row of the group under both aliases. Scalars come
// from the first row only.
func (g *Generator) buildContext(grp *group) map[string]any {
	vars := grp.rows[0].row.Map()

	rows := make([]any, len(grp.rows))
	for i, ir := range grp.rows {
		rows[i] = ir.row.Map()
	}
	vars[g.opts.PortsAlias] = rows
	vars[g.opts.SwitchesAlias] = rows
	return vars
}

func (g *Generator) switchNames(grp *group) []string {
	seen := make(map[string]struct{}, len(grp.rows))
	var names []string
	for _, ir := range grp.rows {
		name := ir.row.String(g.opts.SwitchNameField)
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}
