package browser

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile is the network fingerprint a context presents: user agent,
// locale, viewport and the navigator properties overridden before any
// page script runs. Applied once per context at creation; best-effort
// policy, not a correctness requirement.
type Profile struct {
	UserAgent      string `yaml:"user_agent"`
	Locale         string `yaml:"locale"`
	TimezoneID     string `yaml:"timezone_id"`
	ViewportWidth  int    `yaml:"viewport_width"`
	ViewportHeight int    `yaml:"viewport_height"`
	AcceptLanguage string `yaml:"accept_language"`
	SecCHUA        string `yaml:"sec_ch_ua"`
	SecCHUAMobile  string `yaml:"sec_ch_ua_mobile"`
	SecCHUAPlat    string `yaml:"sec_ch_ua_platform"`

	Platform            string `yaml:"platform"`
	HardwareConcurrency int    `yaml:"hardware_concurrency"`
	DeviceMemory        int    `yaml:"device_memory"`
}

// DefaultProfile returns the stock desktop Chrome fingerprint.
func DefaultProfile() Profile {
	return Profile{
		UserAgent:           "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/142.0.7444.59 Safari/537.36",
		Locale:              "en-US",
		TimezoneID:          "Asia/Kolkata",
		ViewportWidth:       1280,
		ViewportHeight:      900,
		AcceptLanguage:      "en-US,en;q=0.9",
		SecCHUA:             `"Chromium";v="142", "Google Chrome";v="142", "Not A(Brand";v="99"`,
		SecCHUAMobile:       "?0",
		SecCHUAPlat:         `"Windows"`,
		Platform:            "Win32",
		HardwareConcurrency: 8,
		DeviceMemory:        8,
	}
}

// LoadProfile reads fingerprint overrides from a YAML file. Fields left
// empty in the file keep their default values.
func LoadProfile(path string) (Profile, error) {
	profile := DefaultProfile()
	data, err := os.ReadFile(path)
	if err != nil {
		return profile, fmt.Errorf("failed to read stealth profile: %w", err)
	}
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return profile, fmt.Errorf("failed to parse stealth profile: %w", err)
	}
	return profile, nil
}

// ExtraHeaders returns the HTTP headers sent with every request from the
// context.
func (p Profile) ExtraHeaders() map[string]string {
	return map[string]string{
		"Accept-Language":           p.AcceptLanguage,
		"Upgrade-Insecure-Requests": "1",
		"Sec-CH-UA":                 p.SecCHUA,
		"Sec-CH-UA-Mobile":          p.SecCHUAMobile,
		"Sec-CH-UA-Platform":        p.SecCHUAPlat,
	}
}

// launchArgs are the chromium flags that suppress the obvious automation
// signals. Paired with IgnoreDefaultArgs removing --enable-automation.
var launchArgs = []string{
	"--no-sandbox",
	"--disable-setuid-sandbox",
	"--disable-dev-shm-usage",
	"--disable-features=IsolateOrigins,site-per-process",
	"--disable-blink-features=AutomationControlled",
	"--disable-web-security",
	"--allow-running-insecure-content",
	"--ignore-certificate-errors",
	"--window-size=1280,900",
}

// InitScript builds the context init script that overrides the navigator
// surface before any page script observes it. Each override is wrapped
// individually so one hostile property definition cannot break the rest.
func (p Profile) InitScript() string {
	return fmt.Sprintf(`() => {
  try {
    try { Object.defineProperty(navigator, "webdriver", { get: () => undefined, configurable: true }); } catch(e) {}
    try { Object.defineProperty(navigator, "languages", { get: () => ["en-US","en"], configurable: true }); } catch(e) {}
    try { Object.defineProperty(navigator, "platform", { get: () => %q, configurable: true }); } catch(e) {}
    try { Object.defineProperty(navigator, "maxTouchPoints", { get: () => 0, configurable: true }); } catch(e) {}
    try { Object.defineProperty(navigator, "hardwareConcurrency", { get: () => %d, configurable: true }); } catch(e) {}
    try { Object.defineProperty(navigator, "deviceMemory", { get: () => %d, configurable: true }); } catch(e) {}
    try {
      if (!window.chrome) window.chrome = { runtime: {}, webstore: {}, loadTimes: function(){}, csi: function(){} };
    } catch(e) {}
    try {
      const origToDataURL = HTMLCanvasElement.prototype.toDataURL;
      HTMLCanvasElement.prototype.toDataURL = function() { try { const ctx = this.getContext('2d'); if (ctx) ctx.fillRect(0,0,1,1); } catch(e){} return origToDataURL.apply(this, arguments); };
    } catch(e) {}
    try {
      const webglProto = window.WebGLRenderingContext && window.WebGLRenderingContext.prototype;
      if (webglProto && webglProto.getParameter) {
        const orig = webglProto.getParameter;
        webglProto.getParameter = function(param) {
          if (param === 37445) return 'Intel Inc.';
          if (param === 37446) return 'Intel Iris OpenGL Engine';
          try { return orig.call(this, param); } catch(e) { return null; }
        }
      }
    } catch(e) {}
  } catch (err) {}
}`, p.Platform, p.HardwareConcurrency, p.DeviceMemory)
}
