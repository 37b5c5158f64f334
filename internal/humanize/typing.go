package humanize

import (
	"context"
	"unicode"

	"github.com/xkilldash9x/magpie-cli/api/schemas"
	"github.com/xkilldash9x/magpie-cli/internal/timing"
)

// Named non-printing keys understood by the executor.
const (
	KeyBackspace = "Backspace"
	KeyEnter     = "Enter"
	KeyEscape    = "Escape"
)

// keyboardNeighbors maps each key to its physical QWERTY neighbors, the pool
// realistic mistypes are drawn from.
var keyboardNeighbors = map[rune]string{
	'1': "2q`", '2': "13wq", '3': "24we", '4': "35er", '5': "46rt", '6': "57ty",
	'7': "68yu", '8': "79ui", '9': "80io", '0': "9-op",
	'q': "wa1s", 'w': "qase23", 'e': "wsdr34", 'r': "edft45", 't': "rfgy56",
	'y': "tghu67", 'u': "yhji78", 'i': "ujko89", 'o': "iklp90", 'p': "ol;0-",
	'a': "qwsz", 's': "awedxz", 'd': "serfcx", 'f': "drtgvc", 'g': "ftyhbv",
	'h': "gyujnb", 'j': "huikmn", 'k': "jiol,m", 'l': "kop;.",
	'z': "asx", 'x': "zsdc", 'c': "xdfv", 'v': "cfgb", 'b': "vghn", 'n': "bhjm", 'm': "njk,",
}

// Type focuses the element with a tap, then emits the text one keystroke at a
// time with inter-key pauses, occasional thinking pauses between words, and a
// small rate of noticed-and-corrected mistypes. The final field content
// always equals text.
func (s *Simulator) Type(ctx context.Context, el schemas.ElementHandle, text string) error {
	if err := s.Tap(ctx, el); err != nil {
		return err
	}

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if err := s.sleep(ctx, timing.KeyPress); err != nil {
			return err
		}

		if unicode.IsSpace(r) && s.model.Float64() < s.cfg.ThinkingRate {
			if err := s.sleep(ctx, timing.Thinking); err != nil {
				return err
			}
		}

		if s.model.Float64() < s.cfg.TypoRate {
			handled, err := s.mistype(ctx, r)
			if err != nil {
				return err
			}
			if handled {
				continue
			}
		}

		if err := s.exec.DispatchKey(ctx, schemas.KeyEventData{Rune: r}); err != nil {
			return err
		}
	}

	s.model.RecordAction()
	return nil
}

// mistype hits a neighboring key, notices after a correction pause, erases it
// and types the intended rune. Keys without mapped neighbors never mistype.
func (s *Simulator) mistype(ctx context.Context, intended rune) (bool, error) {
	neighbors, ok := keyboardNeighbors[unicode.ToLower(intended)]
	if !ok || len(neighbors) == 0 {
		return false, nil
	}

	wrong := rune(neighbors[s.model.Intn(len(neighbors))])
	if unicode.IsUpper(intended) {
		wrong = unicode.ToUpper(wrong)
	}

	if err := s.exec.DispatchKey(ctx, schemas.KeyEventData{Rune: wrong}); err != nil {
		return true, err
	}
	if err := s.sleep(ctx, timing.Correction); err != nil {
		return true, err
	}
	if err := s.exec.DispatchKey(ctx, schemas.KeyEventData{Key: KeyBackspace}); err != nil {
		return true, err
	}
	if err := s.sleep(ctx, timing.KeyPress); err != nil {
		return true, err
	}
	if err := s.exec.DispatchKey(ctx, schemas.KeyEventData{Rune: intended}); err != nil {
		return true, err
	}
	return true, nil
}
