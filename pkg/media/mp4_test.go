package media

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// buildMP4 assembles a minimal container: an ftyp box followed by a moov
// holding one version-0 mvhd with the given timescale and duration.
func buildMP4(t *testing.T, timescale, duration uint32) string {
	t.Helper()

	ftyp := make([]byte, 16)
	binary.BigEndian.PutUint32(ftyp[:4], 16)
	copy(ftyp[4:8], "ftyp")
	copy(ftyp[8:12], "isom")

	mvhd := make([]byte, 8+100)
	binary.BigEndian.PutUint32(mvhd[:4], uint32(len(mvhd)))
	copy(mvhd[4:8], "mvhd")
	// payload: version(1) flags(3) creation(4) modification(4) timescale(4) duration(4)
	binary.BigEndian.PutUint32(mvhd[8+12:8+16], timescale)
	binary.BigEndian.PutUint32(mvhd[8+16:8+20], duration)

	moov := make([]byte, 8, 8+len(mvhd))
	binary.BigEndian.PutUint32(moov[:4], uint32(8+len(mvhd)))
	copy(moov[4:8], "moov")
	moov = append(moov, mvhd...)

	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, append(ftyp, moov...), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// buildMP4WithTrack adds a trak/tkhd carrying the given presentation
// size alongside the mvhd.
func buildMP4WithTrack(t *testing.T, timescale, duration uint32, width, height int) string {
	t.Helper()

	ftyp := make([]byte, 16)
	binary.BigEndian.PutUint32(ftyp[:4], 16)
	copy(ftyp[4:8], "ftyp")
	copy(ftyp[8:12], "isom")

	mvhd := make([]byte, 8+100)
	binary.BigEndian.PutUint32(mvhd[:4], uint32(len(mvhd)))
	copy(mvhd[4:8], "mvhd")
	binary.BigEndian.PutUint32(mvhd[8+12:8+16], timescale)
	binary.BigEndian.PutUint32(mvhd[8+16:8+20], duration)

	// version-0 tkhd: width and height are 16.16 fixed point after the
	// transform matrix.
	tkhd := make([]byte, 8+84)
	binary.BigEndian.PutUint32(tkhd[:4], uint32(len(tkhd)))
	copy(tkhd[4:8], "tkhd")
	binary.BigEndian.PutUint32(tkhd[8+76:8+80], uint32(width)<<16)
	binary.BigEndian.PutUint32(tkhd[8+80:8+84], uint32(height)<<16)

	trak := make([]byte, 8, 8+len(tkhd))
	binary.BigEndian.PutUint32(trak[:4], uint32(8+len(tkhd)))
	copy(trak[4:8], "trak")
	trak = append(trak, tkhd...)

	moov := make([]byte, 8, 8+len(mvhd)+len(trak))
	binary.BigEndian.PutUint32(moov[:4], uint32(8+len(mvhd)+len(trak)))
	copy(moov[4:8], "moov")
	moov = append(moov, mvhd...)
	moov = append(moov, trak...)

	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, append(ftyp, moov...), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestProbeMP4Duration(t *testing.T) {
	// 600 units at timescale 60 is a ten second clip.
	path := buildMP4(t, 60, 600)

	dur, ok := probeMP4Duration(path)
	if !ok {
		t.Fatal("expected duration from well-formed container")
	}
	if dur != 10*time.Second {
		t.Errorf("duration = %s, want 10s", dur)
	}
}

func TestProbeMP4Duration_LongClip(t *testing.T) {
	path := buildMP4(t, 1000, 11*60*1000) // 11 minutes

	dur, ok := probeMP4Duration(path)
	if !ok {
		t.Fatal("expected duration")
	}
	if dur <= maxVideoDuration {
		t.Errorf("duration = %s, want over the 10 minute cap", dur)
	}
}

func TestProbeMP4Duration_GarbageIsNotFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.mp4")
	if err := os.WriteFile(path, []byte("definitely not an mp4"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, ok := probeMP4Duration(path); ok {
		t.Error("garbage input should report no duration, not a bogus one")
	}

	if _, ok := probeMP4Duration(filepath.Join(t.TempDir(), "missing.mp4")); ok {
		t.Error("missing file should report no duration")
	}
}

func TestProbeMP4Dimensions(t *testing.T) {
	path := buildMP4WithTrack(t, 60, 600, 1280, 720)

	w, h, ok := probeMP4Dimensions(path)
	if !ok {
		t.Fatal("expected dimensions from well-formed container")
	}
	if w != 1280 || h != 720 {
		t.Errorf("dimensions = %dx%d, want 1280x720", w, h)
	}
}

func TestProbeMP4Dimensions_NoTrackIsNotFatal(t *testing.T) {
	// mvhd only, no trak.
	path := buildMP4(t, 60, 600)

	if _, _, ok := probeMP4Dimensions(path); ok {
		t.Error("container without a track header should report no dimensions")
	}
}

func TestValidateVideo_ResolutionCap(t *testing.T) {
	within := Item{Kind: KindVideo, Path: buildMP4WithTrack(t, 60, 600, 1920, 1080), Size: 1 << 20}
	if err := validateVideo(&within); err != nil {
		t.Fatalf("1920x1080 should pass: %v", err)
	}
	if within.Width != 1920 || within.Height != 1080 {
		t.Errorf("probed dimensions not recorded on the item: %+v", within)
	}

	over := Item{Kind: KindVideo, Path: buildMP4WithTrack(t, 60, 600, 2560, 1440), Size: 1 << 20}
	if err := validateVideo(&over); err == nil {
		t.Error("2560x1440 should be rejected")
	}

	tall := Item{Kind: KindVideo, Path: buildMP4WithTrack(t, 60, 600, 1080, 1920), Size: 1 << 20}
	if err := validateVideo(&tall); err == nil {
		t.Error("height over the cap should be rejected")
	}
}
