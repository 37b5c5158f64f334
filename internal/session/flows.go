package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/magpie-cli/api/schemas"
	"github.com/xkilldash9x/magpie-cli/internal/humanize"
	"github.com/xkilldash9x/magpie-cli/internal/recovery"
	"github.com/xkilldash9x/magpie-cli/internal/timing"
)

// exploreChance is how often a session skims the page before reaching for
// the ship-to menu.
const exploreChance = 0.4

// openCoinPage navigates to the reward page and lingers the way a person
// does after a page settles.
func (r *run) openCoinPage(ctx context.Context) error {
	step := schemas.InteractionStep{Name: "open coin page", Kind: schemas.StepNavigate, URL: r.cfg.Collector.CoinURL}
	_, err := r.exec(ctx, step, func(ctx context.Context, _ schemas.ElementHandle) error {
		if err := r.page.Navigate(ctx, step.URL); err != nil {
			return err
		}
		return r.page.Sleep(ctx, r.model.Delay(timing.PostNavigation))
	}, nil)
	return err
}

// authenticate logs the account in through the coin page overlay. The
// account form only exists behind the login button; when the whole button
// ladder is absent the session is already authenticated and everything else
// here is skipped.
func (r *run) authenticate(ctx context.Context) error {
	r.setState(schemas.StateAuthenticating)

	needed, err := r.loginNeeded(ctx)
	if err != nil {
		return err
	}
	if !needed {
		r.logger.Info("no login button on the coin page, assuming an active session")
		r.record("open login form", recovery.Result{Outcome: schemas.OutcomeSkipped})
		return nil
	}

	if !r.cfg.Credentials.Set() {
		return &schemas.SessionFailure{State: r.state, Step: "open login form",
			Err: &schemas.ConfigError{
				Field:  "credentials",
				Reason: "login required but MAGPIE_EMAIL and MAGPIE_PASSWORD are not set",
			}}
	}

	open := schemas.InteractionStep{Name: "open login form", Kind: schemas.StepTap,
		Candidates: loginButtonCandidates, Alternates: loginButtonAlternates}
	if _, err := r.exec(ctx, open, r.tap, r.whenVisible("account form", emailInput)); err != nil {
		return err
	}

	enterEmail := schemas.InteractionStep{Name: "enter email", Kind: schemas.StepTypeText,
		Candidates: []schemas.Selector{emailInput}}
	if _, err := r.exec(ctx, enterEmail, r.typeText(r.cfg.Credentials.Email), nil); err != nil {
		return err
	}

	// The email field spawns an autocomplete overlay that can swallow the
	// continue tap.
	dismiss := schemas.InteractionStep{Name: "dismiss autocomplete", Kind: schemas.StepPressKey,
		Key: humanize.KeyEscape, Optional: true}
	if _, err := r.exec(ctx, dismiss, func(ctx context.Context, _ schemas.ElementHandle) error {
		if err := r.sim.PressKey(ctx, humanize.KeyEscape); err != nil {
			return err
		}
		// The header banner is inert; a tap there only drops field focus.
		return r.sim.TapAt(ctx, schemas.Point{X: 100, Y: 100})
	}, nil); err != nil {
		return err
	}

	cont := schemas.InteractionStep{Name: "continue to password", Kind: schemas.StepTap,
		Candidates: []schemas.Selector{continueButton}}
	if _, err := r.exec(ctx, cont, r.tap, r.whenVisible("password form", passwordInput)); err != nil {
		return err
	}

	enterPassword := schemas.InteractionStep{Name: "enter password", Kind: schemas.StepTypeText,
		Candidates: []schemas.Selector{passwordInput}}
	if _, err := r.exec(ctx, enterPassword, r.typeText(r.cfg.Credentials.Password), nil); err != nil {
		return err
	}

	signIn := schemas.InteractionStep{Name: "sign in", Kind: schemas.StepTap,
		Candidates: []schemas.Selector{signInButton}}
	if _, err := r.exec(ctx, signIn, r.tap, r.whenGone("login form", passwordInput)); err != nil {
		return err
	}

	r.logger.Info("login flow completed")
	return nil
}

// loginNeeded probes the whole login button ladder once. A clean not-found
// is the logged-in signal; anything murkier is handed to the guarded step.
func (r *run) loginNeeded(ctx context.Context) (bool, error) {
	probe := append(append([]schemas.Selector{}, loginButtonCandidates...), loginButtonAlternates...)
	if _, err := r.resolver.Resolve(ctx, "login button probe", probe); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		var rerr *schemas.ResolutionError
		if errors.As(err, &rerr) && rerr.Kind == schemas.ResolutionNotFound {
			return false, nil
		}
	}
	return true, nil
}

// changeRegion walks the ship-to picker to the configured region and
// confirms the change in the ship-to summary.
func (r *run) changeRegion(ctx context.Context) error {
	if r.model.Float64() < exploreChance {
		r.exploreSwipe(ctx)
	}

	openPicker := schemas.InteractionStep{Name: "open shipping picker", Kind: schemas.StepTap,
		Candidates: shipToCandidates, Alternates: shipToAlternates}
	if _, err := r.exec(ctx, openPicker, r.tap, r.whenVisible("region picker", countrySelectorCandidates[0])); err != nil {
		return err
	}

	openList := schemas.InteractionStep{Name: "open region list", Kind: schemas.StepTap,
		Candidates: countrySelectorCandidates, Alternates: countrySelectorAlternates}
	if _, err := r.exec(ctx, openList, r.tap, r.whenVisible("region search", regionSearchCandidates[0])); err != nil {
		return err
	}

	// The option list renders in the site's UI language; each retry clears
	// the box and types the next query from the region's rotation.
	var typed string
	attempt := 0
	search := schemas.InteractionStep{Name: "search region", Kind: schemas.StepTypeText,
		Candidates: regionSearchCandidates, Alternates: regionSearchAlternates}
	searchAct := func(ctx context.Context, el schemas.ElementHandle) error {
		if typed != "" {
			if err := r.clearField(ctx, el, len([]rune(typed))); err != nil {
				return err
			}
		}
		query := r.region.Queries[attempt%len(r.region.Queries)]
		attempt++
		typed = query
		return r.sim.Type(ctx, el, query)
	}
	if _, err := r.exec(ctx, search, searchAct, r.whenVisible("region option", r.region.Option)); err != nil {
		return err
	}

	choose := schemas.InteractionStep{Name: "choose region", Kind: schemas.StepTap,
		Candidates: []schemas.Selector{r.region.Option}}
	if _, err := r.exec(ctx, choose, r.tap, nil); err != nil {
		return err
	}

	save := schemas.InteractionStep{Name: "save region", Kind: schemas.StepTap,
		Candidates: saveRegionCandidates, Alternates: saveRegionAlternates}
	if _, err := r.exec(ctx, save, r.tap, r.whenGone("region picker", saveRegionCandidates[0])); err != nil {
		return err
	}

	confirm := schemas.InteractionStep{Name: "confirm region", Kind: schemas.StepWait,
		Candidates: shipToTextCandidates}
	_, err := r.exec(ctx, confirm, func(ctx context.Context, el schemas.ElementHandle) error {
		if r.region.MarkedIn(el.Text) {
			r.logger.Info("region confirmed", zap.String("ship_to", el.Text))
			return nil
		}
		return &schemas.NoEffectError{Step: confirm.Name, Check: "ship-to text shows no " + r.region.Code + " marker"}
	}, nil)
	return err
}

// collect reopens the coin page and taps the daily reward button. The tap
// counts only when the button leaves the page or changes its label.
func (r *run) collect(ctx context.Context) error {
	r.setState(schemas.StateCollecting)

	if err := r.openCoinPage(ctx); err != nil {
		return err
	}

	var tapped schemas.ElementHandle
	step := schemas.InteractionStep{Name: "collect coins", Kind: schemas.StepTap,
		Candidates: collectCandidates, Alternates: collectAlternates}
	outcome, err := r.exec(ctx, step, func(ctx context.Context, el schemas.ElementHandle) error {
		tapped = el
		return r.sim.Tap(ctx, el)
	}, func(ctx context.Context) error {
		return r.collectTookEffect(ctx, &tapped)
	})
	if err != nil {
		return err
	}
	if outcome == schemas.OutcomeCompleted {
		r.report.Collected = true
		r.logger.Info("coins collected", zap.String("device", r.profile.DeviceName))
	}
	return nil
}

// collectTookEffect accepts the tap when the button left the page or its
// label changed; an untouched button means the tap never registered.
func (r *run) collectTookEffect(ctx context.Context, tapped *schemas.ElementHandle) error {
	if err := r.stabilize(ctx); err != nil && ctx.Err() != nil {
		return err
	}
	matches, err := r.page.QueryElements(ctx, tapped.Selector)
	if err != nil {
		return err
	}
	for _, m := range matches {
		if m.Visible && strings.TrimSpace(m.Text) == strings.TrimSpace(tapped.Text) {
			return &schemas.NoEffectError{Step: "collect coins", Check: "collect button unchanged after tap"}
		}
	}
	return nil
}

// whenVisible builds a verify that waits for one element to appear. A
// missing element reads as the action having had no effect, so recovery
// re-acts instead of hunting for alternate selectors.
func (r *run) whenVisible(check string, sel schemas.Selector) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := r.stabilize(ctx); err != nil && ctx.Err() != nil {
			return err
		}
		if _, err := r.resolver.Resolve(ctx, check, []schemas.Selector{sel}); err != nil {
			if ctx.Err() != nil {
				return err
			}
			var rerr *schemas.ResolutionError
			if errors.As(err, &rerr) {
				return &schemas.NoEffectError{Step: check, Check: sel.Label + " not visible"}
			}
			return err
		}
		return nil
	}
}

// whenGone builds a verify that waits for one element to leave the page.
func (r *run) whenGone(check string, sel schemas.Selector) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := r.stabilize(ctx); err != nil && ctx.Err() != nil {
			return err
		}
		start := time.Now()
		for {
			matches, err := r.page.QueryElements(ctx, sel)
			if err != nil {
				return err
			}
			visible := 0
			for _, m := range matches {
				if m.Visible && !m.Geometry.IsZero() {
					visible++
				}
			}
			if visible == 0 {
				return nil
			}
			if time.Since(start) >= r.cfg.Resolver.CandidateWait {
				return &schemas.NoEffectError{Step: check, Check: sel.Label + " still visible"}
			}
			if err := r.page.Sleep(ctx, r.cfg.Resolver.PollInterval); err != nil {
				return err
			}
		}
	}
}

// clearField focuses the field and erases n characters.
func (r *run) clearField(ctx context.Context, el schemas.ElementHandle, n int) error {
	if err := r.sim.Tap(ctx, el); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := r.sim.PressKey(ctx, humanize.KeyBackspace); err != nil {
			return err
		}
	}
	return nil
}

// exploreSwipe nudges the page the way a person skims before reaching for a
// menu. Failures only cost the gesture.
func (r *run) exploreSwipe(ctx context.Context) {
	vw := float64(r.profile.Viewport.Width)
	vh := float64(r.profile.Viewport.Height)
	zone := schemas.ElementHandle{
		Geometry: schemas.ElementGeometry{X: vw * 0.2, Y: vh * 0.4, Width: vw * 0.6, Height: vh * 0.3},
		Visible:  true,
	}
	dist := 100 + r.model.Float64()*200
	vector := schemas.Point{X: r.model.NormFloat64() * 8, Y: -dist}
	if err := r.sim.Swipe(ctx, zone, vector); err != nil {
		r.logger.Debug("explore swipe abandoned", zap.Error(err))
	}
}
