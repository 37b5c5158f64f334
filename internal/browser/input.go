package browser

import (
	"fmt"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp/kb"

	"github.com/xkilldash9x/magpie-cli/api/schemas"
)

// touchTypes maps the engine's touch phases onto the wire protocol's.
var touchTypes = map[schemas.TouchEventType]input.TouchType{
	schemas.TouchStart:  input.TouchStart,
	schemas.TouchMove:   input.TouchMove,
	schemas.TouchEnd:    input.TouchEnd,
	schemas.TouchCancel: input.TouchCancel,
}

// namedKeys maps the simulator's non-printing key names onto the layout
// runes kb encodes.
var namedKeys = map[string]rune{
	"Backspace": '\b',
	"Tab":       '\t',
	"Enter":     '\r',
	"Escape":    '\x1b',
	"Delete":    '\x7f',
}

// touchParams translates one touch event into its CDP dispatch call.
// TouchEnd and TouchCancel carry an empty point list; TouchStart and
// TouchMove need at least one contact. The protocol rejects anything else.
func touchParams(ev schemas.TouchEventData) (*input.DispatchTouchEventParams, error) {
	kind, ok := touchTypes[ev.Type]
	if !ok {
		return nil, fmt.Errorf("unknown touch event type %q", ev.Type)
	}

	switch kind {
	case input.TouchStart, input.TouchMove:
		if len(ev.Points) == 0 {
			return nil, fmt.Errorf("%s requires at least one touch point", ev.Type)
		}
	default:
		if len(ev.Points) != 0 {
			return nil, fmt.Errorf("%s must not carry touch points", ev.Type)
		}
	}

	points := make([]*input.TouchPoint, len(ev.Points))
	for i, pt := range ev.Points {
		points[i] = &input.TouchPoint{
			X:       pt.X,
			Y:       pt.Y,
			RadiusX: pt.RadiusX,
			RadiusY: pt.RadiusY,
			Force:   pt.Force,
			ID:      float64(i),
		}
	}
	return input.DispatchTouchEvent(kind, points), nil
}

// keySequence translates one logical keystroke into its CDP event pair via
// the kb layout tables, the same encoding chromedp.KeyEvent uses.
func keySequence(ev schemas.KeyEventData) ([]*input.DispatchKeyEventParams, error) {
	r := ev.Rune
	if ev.Key != "" {
		named, ok := namedKeys[ev.Key]
		if !ok {
			return nil, fmt.Errorf("unknown key %q", ev.Key)
		}
		r = named
	}
	if r == 0 {
		return nil, fmt.Errorf("key event carries neither rune nor key name")
	}
	return kb.Encode(r), nil
}
