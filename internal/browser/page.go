package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/magpie-cli/api/schemas"
	"github.com/xkilldash9x/magpie-cli/internal/browser/stealth"
	"github.com/xkilldash9x/magpie-cli/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Page is one browser tab. It exposes the primitives the engine needs:
// navigation, element queries and raw input dispatch. Handles returned by
// QueryElements go stale on DOM change; callers re-resolve rather than cache.
type Page struct {
	id      string
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *zap.Logger
	cfg     config.BrowserConfig
	watcher *Watcher

	onClose   func()
	closeOnce sync.Once
}

// bootstrap starts event collection and applies the fingerprint before the
// first navigation. Order matters: the evasion script must be registered
// while the tab is still on about:blank.
func (p *Page) bootstrap(ctx context.Context, profile schemas.FingerprintProfile) error {
	if err := p.watcher.Start(); err != nil {
		return err
	}
	return p.ApplyFingerprint(ctx, profile)
}

// run executes chromedp actions on the tab, honoring cancellation from both
// the tab lifecycle and the operation context.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, cancel := mergeCancel(p.ctx, ctx)
	defer cancel()
	return chromedp.Run(opCtx, actions...)
}

// ApplyFingerprint installs the device profile: UA and client hints, device
// metrics, touch, timezone, locale and the evasion script.
func (p *Page) ApplyFingerprint(ctx context.Context, profile schemas.FingerprintProfile) error {
	if err := p.run(ctx, stealth.Apply(profile, p.logger)); err != nil {
		return fmt.Errorf("applying fingerprint %q: %w", profile.DeviceName, err)
	}
	return nil
}

// Navigate loads a URL and waits for the network to settle. A quiescence
// timeout with the page otherwise loaded is downgraded to a debug entry;
// chatty pages never finish by the strict definition.
func (p *Page) Navigate(ctx context.Context, url string) error {
	p.logger.Info("navigating", zap.String("url", url))

	navCtx, cancel := context.WithTimeout(ctx, p.cfg.NavigationTimeout)
	defer cancel()

	if err := p.run(navCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}

	if err := p.WaitForQuiescence(navCtx, p.cfg.QuietPeriod); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.logger.Debug("network still active after navigation", zap.String("url", url), zap.Error(err))
	}
	return nil
}

// CurrentURL returns the tab's present location.
func (p *Page) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	if err := p.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("reading location: %w", err)
	}
	return loc, nil
}

// queryScript enumerates a selector's matches with their viewport geometry
// and CSS visibility. Visibility here means renderable, not on-screen: the
// session scrolls elements into view with gestures, as a person would.
const queryScript = `
(function(query, kind) {
	let nodes = [];
	if (kind === 'xpath') {
		const snap = document.evaluate(query, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
		for (let i = 0; i < snap.snapshotLength; i++) {
			nodes.push(snap.snapshotItem(i));
		}
	} else {
		nodes = Array.from(document.querySelectorAll(query));
	}
	const out = [];
	nodes.forEach(function(node, index) {
		if (!(node instanceof Element)) {
			return;
		}
		const rect = node.getBoundingClientRect();
		const style = window.getComputedStyle(node);
		const visible = rect.width > 0 && rect.height > 0 &&
			style.display !== 'none' &&
			style.visibility !== 'hidden' &&
			style.opacity !== '0';
		out.push({
			index: index,
			geometry: {x: rect.x, y: rect.y, width: rect.width, height: rect.height},
			visible: visible,
			text: (node.textContent || '').trim().slice(0, 120)
		});
	});
	return out;
})(%s, %s)`

// QueryElements runs one selector against the live DOM and returns every
// match with geometry and visibility. The resolver applies the
// exactly-one-visible rule on top.
func (p *Page) QueryElements(ctx context.Context, sel schemas.Selector) ([]schemas.ElementHandle, error) {
	script := fmt.Sprintf(queryScript, jsonEncode(sel.Query), jsonEncode(string(sel.Kind)))

	var raw []byte
	err := p.run(ctx, chromedp.Evaluate(script, &raw, func(ep *runtime.EvaluateParams) *runtime.EvaluateParams {
		return ep.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
	}))
	if err != nil {
		return nil, fmt.Errorf("evaluating selector %q: %w", sel.Query, err)
	}

	var rows []struct {
		Index    int                     `json:"index"`
		Geometry schemas.ElementGeometry `json:"geometry"`
		Visible  bool                    `json:"visible"`
		Text     string                  `json:"text"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decoding matches for %q: %w", sel.Query, err)
	}

	handles := make([]schemas.ElementHandle, 0, len(rows))
	for _, row := range rows {
		handles = append(handles, schemas.ElementHandle{
			Selector: sel,
			Index:    row.Index,
			Geometry: row.Geometry,
			Visible:  row.Visible,
			Text:     row.Text,
		})
	}
	return handles, nil
}

// DispatchTouch sends one raw touch event to the tab.
func (p *Page) DispatchTouch(ctx context.Context, ev schemas.TouchEventData) error {
	params, err := touchParams(ev)
	if err != nil {
		return err
	}
	if err := p.run(ctx, params); err != nil {
		return fmt.Errorf("dispatching %s: %w", ev.Type, err)
	}
	return nil
}

// DispatchKey sends one logical keystroke as its CDP event pair.
func (p *Page) DispatchKey(ctx context.Context, ev schemas.KeyEventData) error {
	seq, err := keySequence(ev)
	if err != nil {
		return err
	}
	actions := make([]chromedp.Action, len(seq))
	for i, params := range seq {
		actions[i] = params
	}
	if err := p.run(ctx, actions...); err != nil {
		return fmt.Errorf("dispatching key: %w", err)
	}
	return nil
}

// Sleep pauses for d, honoring cancellation.
func (p *Page) Sleep(ctx context.Context, d time.Duration) error {
	return p.run(ctx, chromedp.Sleep(d))
}

// WaitForQuiescence blocks until the page has had no network activity for
// the quiet period.
func (p *Page) WaitForQuiescence(ctx context.Context, quiet time.Duration) error {
	if quiet <= 0 {
		quiet = p.cfg.QuietPeriod
	}
	opCtx, cancel := mergeCancel(p.ctx, ctx)
	defer cancel()
	return p.watcher.WaitQuiet(opCtx, quiet)
}

const highlightScript = `
(function(query, kind) {
	let node = null;
	if (kind === 'xpath') {
		node = document.evaluate(query, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	} else {
		node = document.querySelector(query);
	}
	if (!node || !(node instanceof Element)) {
		return false;
	}
	const prev = node.style.outline;
	node.style.outline = '3px solid #ff5722';
	node.scrollIntoView({block: 'center', behavior: 'smooth'});
	setTimeout(function() { node.style.outline = prev; }, 10000);
	return true;
})(%s, %s)`

// Highlight outlines the first match of a selector so a person at a
// checkpoint can see what the run is stuck on. Best effort.
func (p *Page) Highlight(ctx context.Context, sel schemas.Selector) error {
	script := fmt.Sprintf(highlightScript, jsonEncode(sel.Query), jsonEncode(string(sel.Kind)))
	var found bool
	err := p.run(ctx, chromedp.Evaluate(script, &found))
	if err != nil {
		return fmt.Errorf("highlighting %q: %w", sel.Query, err)
	}
	if !found {
		return fmt.Errorf("highlighting %q: no match", sel.Query)
	}
	return nil
}

// ConsoleEntries returns the captured page console warnings and errors.
func (p *Page) ConsoleEntries() []schemas.ConsoleEntry {
	return p.watcher.Entries()
}

// Close tears down the tab. Idempotent, and usable with a background
// context when the run context is already dead.
func (p *Page) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.logger.Info("closing page")
		p.watcher.Stop()
		p.cancel()
		if p.onClose != nil {
			p.onClose()
		}
	})
	return nil
}

// mergeCancel derives a context from parent that is additionally canceled
// when secondary ends. chromedp actions must run on the tab's own context
// chain, so the operation context can only contribute cancellation.
func mergeCancel(parent, secondary context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-merged.Done():
		}
	}()
	return merged, cancel
}

func jsonEncode(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `""`
	}
	return string(b)
}
