package router

import (
	"fmt"

	"github.com/tradewarden/tradewarden/core"
	"github.com/tradewarden/tradewarden/logger"
)

// Router maps a classified regime and session onto a strategy template
type Router struct {
	log       logger.Logger
	templates []Template
	byRegime  map[core.Regime]*Template
}

// New creates a router over the given templates; nil uses the built-ins.
// Template sets carry at most one template per regime.
func New(templates []Template, log logger.Logger) (*Router, error) {
	if templates == nil {
		templates = Defaults()
	}
	r := &Router{
		log:       log,
		templates: templates,
		byRegime:  make(map[core.Regime]*Template, len(templates)),
	}
	for i := range templates {
		t := &templates[i]
		if _, dup := r.byRegime[t.Regime]; dup {
			return nil, fmt.Errorf("router: duplicate template for regime %s", t.Regime)
		}
		r.byRegime[t.Regime] = t
	}
	return r, nil
}

// Templates returns the routable template set
func (r *Router) Templates() []Template {
	return r.templates
}

// ByName returns the template with the given name
func (r *Router) ByName(name string) (*Template, bool) {
	for i := range r.templates {
		if r.templates[i].Name == name {
			return &r.templates[i], true
		}
	}
	return nil, false
}

// Route selects the template for the regime and session. A non-empty skip
// list means no trade; the template pointer is nil in that case.
func (r *Router) Route(regime core.Regime, session core.Session, snap *core.Snapshot) (*Template, []core.SkipReason) {
	tpl, ok := r.byRegime[regime]
	if !ok {
		r.log.WithField("regime", regime).Debug("no template for regime")
		return nil, []core.SkipReason{core.SkipOf(core.SkipCodeNoTemplate)}
	}

	if !tpl.AllowsSession(session) {
		r.log.WithFields(map[string]any{
			"template": tpl.Name,
			"session":  session,
		}).Debug("template blocked by session")
		return nil, []core.SkipReason{{Code: core.SkipCodeSessionBlock, Detail: string(session)}}
	}

	if missing := tpl.MissingFeatures(snap); len(missing) > 0 {
		reasons := make([]core.SkipReason, 0, len(missing))
		for _, ref := range missing {
			reasons = append(reasons, core.SkipMissingFeature(ref.String()))
		}
		return nil, reasons
	}

	return tpl, nil
}
