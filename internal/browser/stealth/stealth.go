// Package stealth makes a fresh tab present as one concrete real device.
// Every observable signal comes from a single FingerprintProfile so the
// protocol-level overrides and the injected script never contradict each
// other.
package stealth

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/magpie-cli/api/schemas"
)

//go:embed evasions.js
var evasionsScript string

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Apply builds the CDP action sequence that dresses a tab as the profiled
// device. It must run before the first navigation; the evasion script only
// reaches documents created after registration.
func Apply(profile schemas.FingerprintProfile, logger *zap.Logger) chromedp.Tasks {
	logger.Debug("applying fingerprint",
		zap.String("device", profile.DeviceName),
		zap.String("timezone", profile.TimezoneID),
	)

	return chromedp.Tasks{
		// SetExtraHTTPHeaders is a no-op unless the network domain is up.
		network.Enable(),
		setUserAgent(profile),
		setDeviceMetrics(profile),
		setTouchEmulation(profile),
		emulation.SetTimezoneOverride(profile.TimezoneID),
		// SetLocaleOverride takes no arguments here; the locale rides in
		// via the builder.
		emulation.SetLocaleOverride().WithLocale(profile.LocaleTag),
		network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": profile.AcceptLanguage(),
		}),
		injectEvasions(profile),
		// Backgrounded headless tabs report themselves frozen, which
		// stalls site timers.
		page.SetWebLifecycleState(page.SetWebLifecycleStateStateActive),
	}
}

// setUserAgent overrides the classic UA string together with the client
// hints. Sites cross-check the two surfaces, so both derive from the profile.
func setUserAgent(profile schemas.FingerprintProfile) chromedp.Action {
	p := emulation.SetUserAgentOverride(profile.UserAgent).
		WithPlatform(profile.Platform).
		WithAcceptLanguage(profile.AcceptLanguage())

	if ch := profile.ClientHintsData; ch != nil {
		brands := make([]*emulation.UserAgentBrandVersion, len(ch.Brands))
		for i, b := range ch.Brands {
			brands[i] = &emulation.UserAgentBrandVersion{Brand: b.Brand, Version: b.Version}
		}
		p = p.WithUserAgentMetadata(&emulation.UserAgentMetadata{
			Brands:          brands,
			Platform:        ch.Platform,
			PlatformVersion: ch.PlatformVersion,
			Architecture:    ch.Architecture,
			Model:           ch.Model,
			Mobile:          ch.Mobile,
		})
	}
	return p
}

func setDeviceMetrics(profile schemas.FingerprintProfile) chromedp.Action {
	mobile := profile.TouchPoints > 0
	p := emulation.SetDeviceMetricsOverride(
		profile.Viewport.Width,
		profile.Viewport.Height,
		profile.Viewport.ScaleFactor,
		mobile,
	)
	if mobile {
		p = p.WithScreenOrientation(&emulation.ScreenOrientation{
			Type:  emulation.OrientationTypePortraitPrimary,
			Angle: 0,
		})
	}
	return p
}

func setTouchEmulation(profile schemas.FingerprintProfile) chromedp.Action {
	enabled := profile.TouchPoints > 0
	p := emulation.SetTouchEmulationEnabled(enabled)
	if enabled {
		p = p.WithMaxTouchPoints(int64(profile.TouchPoints))
	}
	return p
}

// injectEvasions registers the evasion script to run in every new document.
// AddScriptToEvaluateOnNewDocument returns two values, so it needs the
// ActionFunc wrapper.
func injectEvasions(profile schemas.FingerprintProfile) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		payload, err := evasionPayload(profile)
		if err != nil {
			return err
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(payload).Do(ctx); err != nil {
			return fmt.Errorf("injecting evasion script: %w", err)
		}
		return nil
	})
}

// evasionPayload prefixes the evasion script with the profile constant it
// reads at document start.
func evasionPayload(profile schemas.FingerprintProfile) (string, error) {
	blob, err := json.Marshal(profile)
	if err != nil {
		return "", fmt.Errorf("encoding profile for injection: %w", err)
	}
	return fmt.Sprintf("const MAGPIE_PROFILE = %s;\n%s", blob, evasionsScript), nil
}
