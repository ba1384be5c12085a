package batch

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Sink is the output boundary: each produced file is handed over once,
// fully assembled. There is no network transmission behind it.
type Sink interface {
	SaveRaster(filename string, jpeg []byte) error
	SaveDocument(filename string, doc io.WriterTo) error
}

// DirSink writes outputs into a local directory.
type DirSink struct {
	Dir string
}

// NewDirSink creates dir if needed and returns a sink writing into it.
func NewDirSink(dir string) (DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return DirSink{}, fmt.Errorf("create output dir: %w", err)
	}
	return DirSink{Dir: dir}, nil
}

func (s DirSink) SaveRaster(filename string, jpeg []byte) error {
	return os.WriteFile(filepath.Join(s.Dir, filename), jpeg, 0o644)
}

func (s DirSink) SaveDocument(filename string, doc io.WriterTo) error {
	path := filepath.Join(s.Dir, filename)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := doc.WriteTo(f); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}
