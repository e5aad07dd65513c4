package browser

import (
	"testing"

	"github.com/playwright-community/playwright-go"
)

func TestFromPlaywrightCookies_KeepsSessionCookies(t *testing.T) {
	cookies := []playwright.Cookie{
		{Name: "auth_token", Value: "secret", Domain: ".x.com", Path: "/", HttpOnly: true, Secure: true, SameSite: playwright.SameSiteAttributeLax},
		{Name: "ct0", Value: "csrf", Domain: ".x.com", Path: "/"},
		{Name: "tracking_junk", Value: "x", Domain: "ads.example.com", Path: "/"},
		{Name: "lang", Value: "en", Domain: "x.com", Path: "/", Expires: 1e10},
	}

	out := fromPlaywrightCookies(cookies)
	if len(out) != 3 {
		t.Fatalf("kept %d cookies, want 3: %+v", len(out), out)
	}
	for _, c := range out {
		if c.Name == "tracking_junk" {
			t.Error("off-platform cookie should be dropped")
		}
	}

	first := out[0]
	if first.Name != "auth_token" || !first.HTTPOnly || !first.Secure || first.SameSite != "Lax" {
		t.Errorf("auth cookie attributes lost in conversion: %+v", first)
	}
	if out[2].Expires != 1e10 {
		t.Errorf("expiry lost in conversion: %+v", out[2])
	}
}

func TestHasAuthCookie(t *testing.T) {
	if hasAuthCookie([]playwright.Cookie{{Name: "ct0", Value: "x"}}) {
		t.Error("non-auth cookies must not count as a login")
	}
	if hasAuthCookie([]playwright.Cookie{{Name: "auth_token", Value: ""}}) {
		t.Error("empty auth cookie must not count as a login")
	}
	if !hasAuthCookie([]playwright.Cookie{{Name: "auth_token", Value: "secret"}}) {
		t.Error("auth cookie with a value is a completed login")
	}
}
