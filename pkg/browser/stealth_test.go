package browser

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadProfile_OverridesOnlyGivenFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	content := "user_agent: CustomAgent/1.0\ntimezone_id: Europe/Berlin\nviewport_width: 1920\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	profile, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("LoadProfile failed: %v", err)
	}

	if profile.UserAgent != "CustomAgent/1.0" {
		t.Errorf("UserAgent = %q, want override", profile.UserAgent)
	}
	if profile.TimezoneID != "Europe/Berlin" {
		t.Errorf("TimezoneID = %q, want override", profile.TimezoneID)
	}
	if profile.ViewportWidth != 1920 {
		t.Errorf("ViewportWidth = %d, want 1920", profile.ViewportWidth)
	}

	// Fields absent from the file keep their defaults.
	defaults := DefaultProfile()
	if profile.Locale != defaults.Locale {
		t.Errorf("Locale = %q, want default %q", profile.Locale, defaults.Locale)
	}
	if profile.ViewportHeight != defaults.ViewportHeight {
		t.Errorf("ViewportHeight = %d, want default %d", profile.ViewportHeight, defaults.ViewportHeight)
	}
}

func TestLoadProfile_MissingFileReturnsDefaults(t *testing.T) {
	profile, err := LoadProfile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if profile != DefaultProfile() {
		t.Error("missing file should still return the default profile")
	}
}

func TestInitScript_CarriesProfileValues(t *testing.T) {
	profile := DefaultProfile()
	profile.Platform = "MacIntel"
	profile.HardwareConcurrency = 12

	script := profile.InitScript()
	if !strings.Contains(script, `"MacIntel"`) {
		t.Error("init script missing platform override")
	}
	if !strings.Contains(script, "=> 12") {
		t.Error("init script missing hardwareConcurrency override")
	}
	if !strings.Contains(script, `"webdriver"`) {
		t.Error("init script must hide navigator.webdriver")
	}
}

func TestExtraHeaders(t *testing.T) {
	headers := DefaultProfile().ExtraHeaders()
	if headers["Accept-Language"] == "" {
		t.Error("Accept-Language missing")
	}
	if headers["Sec-CH-UA-Platform"] == "" {
		t.Error("Sec-CH-UA-Platform missing")
	}
}
