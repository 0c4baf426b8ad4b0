package openformat

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

const (
	ININame  = "INI.TXT"
	BKMVName = "BKMVDATA.TXT"
)

// EncodeWindows1255 converts s to the Hebrew ANSI code page expected by
// importers. Characters outside the code page become the substitute byte.
func EncodeWindows1255(s string) ([]byte, error) {
	enc := encoding.ReplaceUnsupported(charmap.Windows1255.NewEncoder())
	out, err := enc.Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("encode windows-1255: %w", err)
	}
	return out, nil
}

func (f Files) encoded() (ini, bkmv []byte, err error) {
	if ini, err = EncodeWindows1255(f.INI); err != nil {
		return nil, nil, err
	}
	if bkmv, err = EncodeWindows1255(f.BKMV); err != nil {
		return nil, nil, err
	}
	return ini, bkmv, nil
}

// WriteZip writes both files, Windows-1255 encoded, as a ZIP archive.
func (f Files) WriteZip(w io.Writer) error {
	ini, bkmv, err := f.encoded()
	if err != nil {
		return err
	}
	zw := zip.NewWriter(w)
	for _, e := range []struct {
		name string
		data []byte
	}{{ININame, ini}, {BKMVName, bkmv}} {
		fw, err := zw.Create(e.name)
		if err != nil {
			return fmt.Errorf("zip %s: %w", e.name, err)
		}
		if _, err := fw.Write(e.data); err != nil {
			return fmt.Errorf("zip %s: %w", e.name, err)
		}
	}
	return zw.Close()
}

// WriteDir writes INI.TXT and BKMVDATA.TXT into dir, creating it if needed.
func (f Files) WriteDir(dir string) error {
	ini, bkmv, err := f.encoded()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, ININame), ini, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", ININame, err)
	}
	if err := os.WriteFile(filepath.Join(dir, BKMVName), bkmv, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", BKMVName, err)
	}
	return nil
}
