// Package profile holds the fixed catalog of device fingerprints. Selection
// is deterministic: the same locale key always yields the same device, so a
// defect report can name the exact fingerprint a run presented.
package profile

import (
	"sort"

	"github.com/xkilldash9x/magpie-cli/api/schemas"
)

// Catalog keys. Each entry is one real device; fields are never mixed across
// entries.
const (
	LocalePoland = "poland"
	LocaleUSEast = "us_east"
)

const (
	uaGalaxyS21 = "Mozilla/5.0 (Linux; Android 13; SM-G991B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36"
	uaPixel7    = "Mozilla/5.0 (Linux; Android 14; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36"
)

// catalog maps locale keys to complete device profiles. Every entry must pass
// schemas.FingerprintProfile.Validate; the catalog test enforces this for all
// keys.
var catalog = map[string]schemas.FingerprintProfile{
	LocalePoland: {
		DeviceName:          "samsung-galaxy-s21",
		Viewport:            schemas.Viewport{Width: 360, Height: 800, ScaleFactor: 3.0},
		UserAgent:           uaGalaxyS21,
		Platform:            "Linux armv81",
		LocaleTag:           "pl-PL",
		Languages:           []string{"pl-PL", "pl", "en"},
		TimezoneID:          "Europe/Warsaw",
		TouchPoints:         5,
		HardwareConcurrency: 8,
		DeviceMemoryGB:      8,
		ClientHintsData: &schemas.ClientHints{
			Platform:        "Android",
			PlatformVersion: "13.0.0",
			Model:           "SM-G991B",
			Mobile:          true,
			Brands: []*schemas.UserAgentBrandVersion{
				{Brand: "Not_A Brand", Version: "8"},
				{Brand: "Chromium", Version: "120"},
				{Brand: "Google Chrome", Version: "120"},
			},
		},
	},
	LocaleUSEast: {
		DeviceName:          "google-pixel-7",
		Viewport:            schemas.Viewport{Width: 412, Height: 915, ScaleFactor: 2.625},
		UserAgent:           uaPixel7,
		Platform:            "Linux armv81",
		LocaleTag:           "en-US",
		Languages:           []string{"en-US", "en"},
		TimezoneID:          "America/New_York",
		TouchPoints:         5,
		HardwareConcurrency: 8,
		DeviceMemoryGB:      8,
		ClientHintsData: &schemas.ClientHints{
			Platform:        "Android",
			PlatformVersion: "14.0.0",
			Model:           "Pixel 7",
			Mobile:          true,
			Brands: []*schemas.UserAgentBrandVersion{
				{Brand: "Not_A Brand", Version: "8"},
				{Brand: "Chromium", Version: "120"},
				{Brand: "Google Chrome", Version: "120"},
			},
		},
	},
}

// Select returns the profile for a locale key. Unknown keys fail with a
// ConfigError naming the valid set; selection itself involves no randomness.
func Select(localeKey string) (schemas.FingerprintProfile, error) {
	p, ok := catalog[localeKey]
	if !ok {
		return schemas.FingerprintProfile{}, &schemas.ConfigError{
			Field:  "profile.locale",
			Value:  localeKey,
			Reason: "unknown locale key",
			Valid:  Keys(),
		}
	}
	return p, nil
}

// Keys lists the catalog's locale keys in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(catalog))
	for k := range catalog {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
