package browser

import (
	"testing"

	"github.com/entrhq/xpost/pkg/vault"
)

func TestScanLoginMarkup(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    loginState
	}{
		{
			name:    "composer present means authenticated",
			content: `<html><body><main><div role="textbox" contenteditable="true"></div></main></body></html>`,
			want:    loginStateAuthenticated,
		},
		{
			name:    "login anchor means anonymous",
			content: `<html><body><a href="/login"><span>Log in</span></a></body></html>`,
			want:    loginStateAnonymous,
		},
		{
			name:    "login button means anonymous",
			content: `<html><body><button>Log In</button></body></html>`,
			want:    loginStateAnonymous,
		},
		{
			name:    "neither affordance is indeterminate",
			content: `<html><body><div class="spinner"></div></body></html>`,
			want:    loginStateIndeterminate,
		},
		{
			name:    "composer wins when markup has unrelated anchors",
			content: `<html><body><a href="/about">About</a><div role="textbox"></div></body></html>`,
			want:    loginStateAuthenticated,
		},
		{
			name:    "unparseable junk is indeterminate",
			content: "",
			want:    loginStateIndeterminate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := scanLoginMarkup(tt.content); got != tt.want {
				t.Errorf("scanLoginMarkup = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestToPlaywrightCookies_Defaults(t *testing.T) {
	cookies := toPlaywrightCookies([]vault.Cookie{
		{Name: "auth_token", Value: "abc"},
		{Name: "ct0", Value: "def", Domain: ".x.com", Path: "/home", Expires: 1900000000, SameSite: "Lax"},
	})
	if len(cookies) != 2 {
		t.Fatalf("got %d cookies, want 2", len(cookies))
	}

	bare := cookies[0]
	if *bare.Domain != "x.com" || *bare.Path != "/" {
		t.Errorf("bare cookie should default domain and path, got %q %q", *bare.Domain, *bare.Path)
	}
	if bare.Expires != nil {
		t.Error("zero expiry should stay unset, session cookie")
	}

	full := cookies[1]
	if *full.Domain != ".x.com" || *full.Path != "/home" {
		t.Errorf("explicit domain and path must survive, got %q %q", *full.Domain, *full.Path)
	}
	if full.Expires == nil || *full.Expires != 1900000000 {
		t.Error("explicit expiry must survive")
	}
	if *full.SameSite != "Lax" {
		t.Errorf("SameSite = %v, want Lax", *full.SameSite)
	}
}
