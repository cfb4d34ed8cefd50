package app

import (
	"context"
	"errors"

	"dutyrec/internal/eventbus"
	"dutyrec/internal/roster"
	"dutyrec/internal/schedule"
	logx "dutyrec/pkg/logx"
)

func (a *App) currentProvider() roster.Provider {
	a.provMu.Lock()
	defer a.provMu.Unlock()
	return a.provider
}

func (a *App) setProvider(p roster.Provider) {
	a.provMu.Lock()
	a.provider = p
	a.provMu.Unlock()
}

// ReloadRoster loads, compiles and arms the roster. On any failure the
// previously armed roster stays in place.
func (a *App) ReloadRoster(ctx context.Context) error {
	log := a.log.With(logx.String("comp", "roster"))

	r, err := a.currentProvider().Load(ctx)
	if err != nil {
		a.bus.Publish(eventbus.Event{Type: eventbus.TypeRosterRejected, Data: map[string]any{"error": err.Error()}})
		return err
	}

	triggers, errs := schedule.Compile(r)
	for _, e := range errs {
		var ce *schedule.CompileError
		if errors.As(e, &ce) {
			log.Warn("roster entry skipped", logx.String("date", ce.DateKey), logx.String("duty", ce.Duty), logx.Err(ce.Err))
		} else {
			log.Warn("roster entry skipped", logx.Err(e))
		}
	}

	// ArmAll only reports triggers it skipped; the rest are armed.
	armed, err := a.sched.ArmAll(triggers)
	if err != nil {
		log.Warn("triggers not armed", logx.Err(err))
	}
	a.roster.Store(r)
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeRosterLoaded, Data: map[string]any{
		"entries": r.Len(),
		"armed":   armed,
		"skipped": len(errs),
	}})
	log.Info("roster armed", logx.Int("entries", r.Len()), logx.Int("armed", armed), logx.Int("skipped", len(errs)))
	return nil
}
