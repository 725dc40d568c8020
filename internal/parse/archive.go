package parse

import (
	"bytes"
	"io"
	"strings"

	"github.com/klauspost/compress/zip"

	"marketlake/internal/errs"
)

// maxArchiveMember caps how much we inflate out of one archive entry.
// Bhavcopies are a few megabytes; anything past this is a corrupt or
// hostile file.
const maxArchiveMember = 512 << 20

// UnzipSingle extracts the payload of a one-file ZIP archive, the shape
// both exchanges use for daily bhavcopy downloads. Directory entries
// are skipped; more than one regular file is drift in the delivery
// format and gets rejected.
func UnzipSingle(raw []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, errs.Errorf(errs.KindData, "open zip: %w", err)
	}
	var member *zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			continue
		}
		if member != nil {
			return nil, errs.Errorf(errs.KindSchemaDrift,
				"zip has multiple members: %q and %q", member.Name, f.Name)
		}
		member = f
	}
	if member == nil {
		return nil, errs.Errorf(errs.KindData, "zip has no file members")
	}
	rc, err := member.Open()
	if err != nil {
		return nil, errs.Errorf(errs.KindData, "open zip member %q: %w", member.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxArchiveMember+1))
	if err != nil {
		return nil, errs.Errorf(errs.KindData, "read zip member %q: %w", member.Name, err)
	}
	if len(data) > maxArchiveMember {
		return nil, errs.Errorf(errs.KindData, "zip member %q exceeds %d bytes", member.Name, maxArchiveMember)
	}
	return data, nil
}

// MaybeUnzip transparently unwraps ZIP payloads and passes everything
// else through. Lets a parser accept both the archived download and a
// pre-extracted file.
func MaybeUnzip(raw []byte) ([]byte, error) {
	if len(raw) >= 4 && bytes.Equal(raw[:4], []byte{'P', 'K', 0x03, 0x04}) {
		return UnzipSingle(raw)
	}
	return raw, nil
}
