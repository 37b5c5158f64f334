package session

import (
	"context"
	"sync"
	"time"

	"github.com/xkilldash9x/magpie-cli/api/schemas"
	"github.com/xkilldash9x/magpie-cli/internal/humanize"
)

// fakeElement is one visible node on the scripted page.
type fakeElement struct {
	box      schemas.ElementGeometry
	text     string
	value    []rune
	onTap    func()
	onChange func(value string)
}

// fakePage is a scripted DOM standing in for a live tab. Taps are resolved
// by geometry the way a real page hit-tests a touch: a start/end pair with
// no moves lands on whichever element contains the contact point.
type fakePage struct {
	mu    sync.Mutex
	els   map[string][]*fakeElement
	focus *fakeElement

	navigations []string
	keys        []string
	taps        []schemas.Point
	moves       int
	start       *schemas.Point
	closed      bool
	console     []schemas.ConsoleEntry

	submittedEmail    string
	submittedPassword string
}

func newFakePage() *fakePage {
	return &fakePage{els: map[string][]*fakeElement{}}
}

// row lays elements out in disjoint bands below the neutral tap area.
func row(i int) schemas.ElementGeometry {
	return schemas.ElementGeometry{X: 30, Y: float64(150 + 80*i), Width: 300, Height: 56}
}

func (p *fakePage) place(query string, el *fakeElement) *fakeElement {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.els[query] = append(p.els[query], el)
	return el
}

func (p *fakePage) remove(query string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.els, query)
}

func (p *fakePage) has(query string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.els[query]) > 0
}

func (p *fakePage) value(query string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if els := p.els[query]; len(els) > 0 {
		return string(els[0].value)
	}
	return ""
}

func (p *fakePage) setText(query, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if els := p.els[query]; len(els) > 0 {
		els[0].text = text
	}
}

// -- session.Page --

func (p *fakePage) Sleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

func (p *fakePage) DispatchTouch(ctx context.Context, ev schemas.TouchEventData) error {
	p.mu.Lock()
	switch ev.Type {
	case schemas.TouchStart:
		pt := schemas.Point{X: ev.Points[0].X, Y: ev.Points[0].Y}
		p.start = &pt
		p.moves = 0
	case schemas.TouchMove:
		p.moves++
	case schemas.TouchCancel:
		p.start = nil
	case schemas.TouchEnd:
		if p.start != nil && p.moves == 0 {
			pt := *p.start
			p.start = nil
			p.mu.Unlock()
			p.tapAt(pt)
			return nil
		}
		p.start = nil
	}
	p.mu.Unlock()
	return nil
}

func (p *fakePage) tapAt(pt schemas.Point) {
	p.mu.Lock()
	p.taps = append(p.taps, pt)
	var hit *fakeElement
	for _, els := range p.els {
		for _, el := range els {
			b := el.box
			if pt.X >= b.X && pt.X <= b.X+b.Width && pt.Y >= b.Y && pt.Y <= b.Y+b.Height {
				hit = el
				break
			}
		}
		if hit != nil {
			break
		}
	}
	p.focus = hit
	p.mu.Unlock()
	if hit != nil && hit.onTap != nil {
		hit.onTap()
	}
}

func (p *fakePage) DispatchKey(ctx context.Context, ev schemas.KeyEventData) error {
	p.mu.Lock()
	var changed *fakeElement
	if ev.Key != "" {
		p.keys = append(p.keys, ev.Key)
		if ev.Key == humanize.KeyBackspace && p.focus != nil && len(p.focus.value) > 0 {
			p.focus.value = p.focus.value[:len(p.focus.value)-1]
			changed = p.focus
		}
	} else if p.focus != nil {
		p.focus.value = append(p.focus.value, ev.Rune)
		changed = p.focus
	}
	var cb func(string)
	var v string
	if changed != nil && changed.onChange != nil {
		cb, v = changed.onChange, string(changed.value)
	}
	p.mu.Unlock()
	if cb != nil {
		cb(v)
	}
	return nil
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigations = append(p.navigations, url)
	return nil
}

func (p *fakePage) CurrentURL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.navigations) == 0 {
		return "about:blank", nil
	}
	return p.navigations[len(p.navigations)-1], nil
}

func (p *fakePage) QueryElements(ctx context.Context, sel schemas.Selector) ([]schemas.ElementHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	els := p.els[sel.Query]
	out := make([]schemas.ElementHandle, len(els))
	for i, el := range els {
		out[i] = schemas.ElementHandle{Selector: sel, Index: i, Geometry: el.box, Visible: true, Text: el.text}
	}
	return out, nil
}

func (p *fakePage) WaitForQuiescence(ctx context.Context, quiet time.Duration) error {
	return ctx.Err()
}

func (p *fakePage) Highlight(ctx context.Context, sel schemas.Selector) error {
	return nil
}

func (p *fakePage) ConsoleEntries() []schemas.ConsoleEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]schemas.ConsoleEntry(nil), p.console...)
}

func (p *fakePage) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// -- scripted sites --

// placeCollect drops a collect button whose label flips once it is tapped.
func placeCollect(p *fakePage, query string, box schemas.ElementGeometry) *fakeElement {
	el := &fakeElement{box: box, text: "Collect"}
	el.onTap = func() {
		p.mu.Lock()
		el.text = "Collected!"
		p.mu.Unlock()
	}
	return p.place(query, el)
}

// loggedOutSite scripts the full journey: login button, staged account
// form, then the collect button once the credentials are submitted.
func loggedOutSite() *fakePage {
	p := newFakePage()
	p.place(loginButtonCandidates[0].Query, &fakeElement{box: row(0), text: "Log in", onTap: func() {
		p.remove(loginButtonCandidates[0].Query)
		p.place(emailInput.Query, &fakeElement{box: row(1)})
		p.place(continueButton.Query, &fakeElement{box: row(2), text: "Continue", onTap: func() {
			if p.value(emailInput.Query) == "" {
				return
			}
			p.place(passwordInput.Query, &fakeElement{box: row(3)})
			p.place(signInButton.Query, &fakeElement{box: row(4), text: "Sign in", onTap: func() {
				if p.value(passwordInput.Query) == "" {
					return
				}
				p.mu.Lock()
				p.submittedEmail = string(p.els[emailInput.Query][0].value)
				p.submittedPassword = string(p.els[passwordInput.Query][0].value)
				p.mu.Unlock()
				p.remove(emailInput.Query)
				p.remove(continueButton.Query)
				p.remove(passwordInput.Query)
				p.remove(signInButton.Query)
				placeCollect(p, collectCandidates[0].Query, row(5))
			}})
		}})
	}})
	return p
}

// loggedInSite has no login surface at all, only the reward button.
func loggedInSite() *fakePage {
	p := newFakePage()
	placeCollect(p, collectCandidates[0].Query, row(0))
	return p
}

// stalledLoginSite accepts the email but never reveals a password form.
func stalledLoginSite() *fakePage {
	p := newFakePage()
	p.place(loginButtonCandidates[0].Query, &fakeElement{box: row(0), text: "Log in", onTap: func() {
		p.remove(loginButtonCandidates[0].Query)
		p.place(emailInput.Query, &fakeElement{box: row(1)})
		p.place(continueButton.Query, &fakeElement{box: row(2), text: "Continue"})
	}})
	return p
}

// regionSite scripts the ship-to picker. The Korea option only appears once
// the search box holds optionAppearsOn, which lets tests force the native
// name fallback.
func regionSite(optionAppearsOn string) *fakePage {
	p := newFakePage()
	placeCollect(p, collectCandidates[0].Query, row(7))
	p.place(shipToTextCandidates[0].Query, &fakeElement{box: row(6), text: "PL/ USD"})
	p.place(shipToCandidates[0].Query, &fakeElement{box: row(0), text: "Ship to", onTap: func() {
		if p.has(countrySelectorCandidates[0].Query) {
			return
		}
		p.place(countrySelectorCandidates[0].Query, &fakeElement{box: row(1), text: "Poland", onTap: func() {
			if p.has(regionSearchCandidates[0].Query) {
				return
			}
			search := &fakeElement{box: row(2)}
			search.onChange = func(v string) {
				if v != optionAppearsOn || p.has(regions["KR"].Option.Query) {
					return
				}
				p.place(regions["KR"].Option.Query, &fakeElement{box: row(3), text: "Korea (대한민국)", onTap: func() {
					if p.has(saveRegionCandidates[0].Query) {
						return
					}
					p.place(saveRegionCandidates[0].Query, &fakeElement{box: row(4), text: "Save", onTap: func() {
						p.remove(saveRegionCandidates[0].Query)
						p.setText(shipToTextCandidates[0].Query, "KO/ USD | Korea")
					}})
				}})
			}
			p.place(regionSearchCandidates[0].Query, search)
		}})
	}})
	return p
}
