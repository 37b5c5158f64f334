package session

import (
	"sort"
	"strings"

	"github.com/xkilldash9x/magpie-cli/api/schemas"
)

// AliExpress mobile site selectors.
// The site ships hashed class names and swaps them often, so every flow step
// carries ordered fallbacks and a separate recovery set. Update these when a
// step stops resolving.

// Coin page login button. When no variant matches, the browser session is
// already authenticated and the whole login flow is skipped.
var (
	loginButtonCandidates = []schemas.Selector{
		schemas.XPath(`//button[contains(@class, 'aecoin-loginButton')]`, "coin page login button"),
		schemas.XPath(`//button[contains(text(), 'Log in')]`, "Log in button"),
		schemas.XPath(`//button[contains(text(), 'log in')]`, "log in button"),
		schemas.XPath(`//button[contains(text(), 'Login')]`, "Login button"),
		schemas.XPath(`//button[contains(text(), 'login')]`, "login button"),
	}
	loginButtonAlternates = []schemas.Selector{
		schemas.XPath(`//div[contains(@class, 'login-button') or contains(@class, 'loginButton')]//button`, "wrapped login button"),
	}
)

// Account form fields. The cosmos widgets keep stable attributes across
// redesigns, so these need no recovery set.
var (
	emailInput     = schemas.CSS(`input.cosmos-input[label='Email or phone number']`, "email field")
	continueButton = schemas.XPath(`//button[contains(@class, 'cosmos-btn-primary') and .//span[text()='Continue']]`, "continue button")
	passwordInput  = schemas.CSS(`#fm-login-password`, "password field")
	signInButton   = schemas.XPath(`//button[contains(@class, 'cosmos-btn-primary') and .//span[text()='Sign in']]`, "sign in button")
)

// Ship-to picker. The USD marker variant only works before the region
// actually changes, which makes it recovery material rather than a primary.
var (
	shipToCandidates = []schemas.Selector{
		schemas.XPath(`//div[contains(@class, 'ship-to--menuItem--')]`, "ship-to menu item"),
		schemas.XPath(`//div[contains(@class, 'es--wrap--')]/div/div[contains(@class, 'ship-to--menuItem--')]`, "wrapped ship-to menu item"),
	}
	shipToAlternates = []schemas.Selector{
		schemas.XPath(`//div[contains(@class, 'ship-to--text--')]/b[contains(text(), 'USD')]`, "ship-to currency marker"),
	}
)

// Region picker controls. The primary selectors pin the hashed class suffix
// currently in production; the alternates survive a hash rotation.
var (
	countrySelectorCandidates = []schemas.Selector{
		schemas.XPath(`//div[contains(@class, 'select--text--1b85oDo')]`, "country selector"),
	}
	countrySelectorAlternates = []schemas.Selector{
		schemas.XPath(`//div[contains(@class, 'select--text--')]`, "country selector by prefix"),
	}

	regionSearchCandidates = []schemas.Selector{
		schemas.XPath(`//div[contains(@class, 'select--search--20Pss08')]/input`, "region search input"),
	}
	regionSearchAlternates = []schemas.Selector{
		schemas.XPath(`//div[contains(@class, 'select--search--')]/input`, "region search input by prefix"),
	}

	saveRegionCandidates = []schemas.Selector{
		schemas.XPath(`//div[contains(@class, 'es--saveBtn--w8EuBuy')]`, "save region button"),
	}
	saveRegionAlternates = []schemas.Selector{
		schemas.XPath(`//div[contains(@class, 'es--saveBtn--')]`, "save region button by prefix"),
	}

	shipToTextCandidates = []schemas.Selector{
		schemas.XPath(`//div[contains(@class, 'ship-to--text--')]`, "ship-to summary"),
	}
)

// Collect button ladder. The Korean variants are the recovery set: after a
// region change the coin page may rerender in Korean.
var (
	collectCandidates = []schemas.Selector{
		schemas.XPath(`//button[@id='signButton']`, "sign button"),
		schemas.XPath(`//button[contains(@class, 'aecoin-signButton-') or contains(@class, 'aecoin-checkInButton-')]`, "aecoin check-in button"),
		schemas.XPath(`//div[contains(@class, 'checkin-button')]`, "check-in div"),
		schemas.XPath(`//div[contains(text(), 'Collect') and contains(@class, 'button')]`, "Collect text button"),
	}
	collectAlternates = []schemas.Selector{
		schemas.XPath(`//div[contains(text(), '출석체크') and contains(@class, 'button')]`, "attendance check button"),
		schemas.XPath(`//div[contains(text(), '적립하기') and contains(@class, 'button')]`, "collect button (korean)"),
		schemas.XPath(`//div[contains(text(), '체크인') and contains(@class, 'button')]`, "check-in button (korean)"),
		schemas.XPath(`//button[contains(@class, 'check-in') or contains(@class, 'checkin')]`, "check-in class button"),
		schemas.XPath(`//div[contains(@class, 'coin') and contains(@class, 'collect')]`, "coin collect div"),
	}
)

// region holds the picker vocabulary for one collector.target_region code.
type region struct {
	Code string
	// Queries are typed into the region search box in rotation until the
	// option list produces a match; the native name covers a UI that does
	// not render English.
	Queries []string
	// Option matches the region row in the picker in any UI language.
	Option schemas.Selector
	// Markers confirm the saved region in the ship-to summary. The
	// country-code prefix is the strongest signal.
	Markers []string
}

// MarkedIn reports whether the ship-to summary text names this region.
func (g region) MarkedIn(text string) bool {
	for _, m := range g.Markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

var regions = map[string]region{
	"KR": {
		Code:    "KR",
		Queries: []string{"Korea", "대한민국"},
		Option:  schemas.XPath(`//div[contains(@class, 'select--item') and (contains(., 'Korea') or contains(., '대한민국'))]`, "Korea region option"),
		Markers: []string{"KO/", "Korea", "한국", "대한민국"},
	},
}

// regionFor resolves a collector.target_region code against the supported
// set.
func regionFor(code string) (region, error) {
	if g, ok := regions[code]; ok {
		return g, nil
	}
	valid := make([]string, 0, len(regions))
	for k := range regions {
		valid = append(valid, k)
	}
	sort.Strings(valid)
	return region{}, &schemas.ConfigError{
		Field:  "collector.target_region",
		Value:  code,
		Reason: "unsupported region",
		Valid:  valid,
	}
}
