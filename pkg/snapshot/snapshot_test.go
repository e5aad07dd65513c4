package snapshot

import (
	"testing"
	"time"
)

func TestKeyLayout(t *testing.T) {
	fixed := time.UnixMilli(1700000000000)
	u := &Uploader{prefix: "debug/runs", now: func() time.Time { return fixed }}

	if got := u.key("home_loaded"); got != "debug/runs/home_loaded_1700000000000.png" {
		t.Errorf("key = %q", got)
	}

	u.prefix = ""
	if got := u.key("after post click"); got != "after_post_click_1700000000000.png" {
		t.Errorf("key = %q", got)
	}
}

func TestSanitizeLabel(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"home_loaded", "home_loaded"},
		{"", "snapshot"},
		{"a/b:c", "a_b_c"},
		{"step-3", "step-3"},
	}
	for _, tt := range tests {
		if got := sanitizeLabel(tt.in); got != tt.want {
			t.Errorf("sanitizeLabel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewUploader_RequiresBucket(t *testing.T) {
	_, err := NewUploader(t.Context(), Options{})
	if err == nil {
		t.Fatal("expected error for missing bucket")
	}
}
