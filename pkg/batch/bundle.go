package batch

import (
	"fmt"

	"github.com/flosch/pongo2/v6"
)

// bundleTemplate lays out every successful config under a "!" comment
// header, which network operating systems ignore when the bundle is pasted.
var bundleTemplate = pongo2.Must(pongo2.FromString(`{% autoescape off %}{% for c in configs %}{% if not forloop.First %}
{% endif %}! ============================================
! Config #{{ forloop.Counter }} - {{ c.Switches|join:", " }}
! Template: {{ c.TemplateName }}
! ============================================

{{ c.Config }}

{% endfor %}{% endautoescape %}`))

// Bundle concatenates the successful configs of results into one text
// document. It returns "" when nothing succeeded.
func Bundle(results []Outcome) (string, error) {
	var configs []Outcome
	for _, o := range results {
		if o.Success {
			configs = append(configs, o)
		}
	}
	if len(configs) == 0 {
		return "", nil
	}

	out, err := bundleTemplate.Execute(pongo2.Context{"configs": configs})
	if err != nil {
		return "", fmt.Errorf("failed to build config bundle: %w", err)
	}
	return out, nil
}
