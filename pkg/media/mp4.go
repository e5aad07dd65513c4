package media

import (
	"encoding/binary"
	"io"
	"os"
	"time"
)

// probeMP4Duration reads the duration out of an MP4 container's movie
// header (moov/mvhd) box. It is best-effort: a file it cannot parse
// reports ok=false and the caller skips the duration check rather than
// rejecting the upload.
func probeMP4Duration(path string) (time.Duration, bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	defer f.Close()

	moov, ok := findBox(f, "moov", fileSize(f))
	if !ok {
		return 0, false
	}
	mvhd, ok := findBox(io.NewSectionReader(f, moov.offset, moov.size), "mvhd", moov.size)
	if !ok {
		return 0, false
	}

	header := make([]byte, 20)
	if _, err := f.ReadAt(header, moov.offset+mvhd.offset); err != nil {
		return 0, false
	}

	version := header[0]
	var timescale, duration uint64
	switch version {
	case 0:
		timescale = uint64(binary.BigEndian.Uint32(header[12:16]))
		duration = uint64(binary.BigEndian.Uint32(header[16:20]))
	case 1:
		// 64-bit creation/modification times push the fields out.
		long := make([]byte, 32)
		if _, err := f.ReadAt(long, moov.offset+mvhd.offset); err != nil {
			return 0, false
		}
		timescale = uint64(binary.BigEndian.Uint32(long[20:24]))
		duration = binary.BigEndian.Uint64(long[24:32])
	default:
		return 0, false
	}

	if timescale == 0 {
		return 0, false
	}
	return time.Duration(duration/timescale) * time.Second, true
}

// probeMP4Dimensions reads the presentation size out of the first track
// header (moov/trak/tkhd). Best-effort with the same contract as
// probeMP4Duration: ok=false skips the check rather than rejecting.
func probeMP4Dimensions(path string) (int, int, bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, false
	}
	defer f.Close()

	moov, ok := findBox(f, "moov", fileSize(f))
	if !ok {
		return 0, 0, false
	}
	moovReader := io.NewSectionReader(f, moov.offset, moov.size)
	trak, ok := findBox(moovReader, "trak", moov.size)
	if !ok {
		return 0, 0, false
	}
	trakReader := io.NewSectionReader(f, moov.offset+trak.offset, trak.size)
	tkhd, ok := findBox(trakReader, "tkhd", trak.size)
	if !ok {
		return 0, 0, false
	}

	version := make([]byte, 1)
	if _, err := trakReader.ReadAt(version, tkhd.offset); err != nil {
		return 0, 0, false
	}

	// width/height sit after the fixed fields and the transform matrix;
	// version 1 carries 64-bit times and duration.
	var fieldOffset int64
	switch version[0] {
	case 0:
		fieldOffset = 76
	case 1:
		fieldOffset = 88
	default:
		return 0, 0, false
	}

	dims := make([]byte, 8)
	if _, err := trakReader.ReadAt(dims, tkhd.offset+fieldOffset); err != nil {
		return 0, 0, false
	}

	// 16.16 fixed point; the integer part is the pixel size.
	width := int(binary.BigEndian.Uint32(dims[:4]) >> 16)
	height := int(binary.BigEndian.Uint32(dims[4:]) >> 16)
	if width == 0 || height == 0 {
		return 0, 0, false
	}
	return width, height, true
}

type boxRegion struct {
	offset int64 // payload start relative to the reader scanned
	size   int64 // payload size
}

// findBox scans top-level boxes of r for the named box type.
func findBox(r io.ReaderAt, name string, limit int64) (boxRegion, bool) {
	var off int64
	header := make([]byte, 8)
	for off+8 <= limit {
		if _, err := r.ReadAt(header, off); err != nil {
			return boxRegion{}, false
		}
		size := int64(binary.BigEndian.Uint32(header[:4]))
		boxType := string(header[4:8])
		headerLen := int64(8)
		if size == 1 {
			ext := make([]byte, 8)
			if _, err := r.ReadAt(ext, off+8); err != nil {
				return boxRegion{}, false
			}
			size = int64(binary.BigEndian.Uint64(ext))
			headerLen = 16
		}
		if size < headerLen {
			return boxRegion{}, false
		}
		if boxType == name {
			return boxRegion{offset: off + headerLen, size: size - headerLen}, true
		}
		off += size
	}
	return boxRegion{}, false
}

func fileSize(f *os.File) int64 {
	info, err := f.Stat()
	if err != nil {
		return 0
	}
	return info.Size()
}
