package engine

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
)

// tailWindow bounds how much of the log TailLog reads.
const tailWindow = 64 * 1024

// TailLog returns up to n trailing lines of the engine log. A missing log
// yields no lines.
func (s Settings) TailLog(n int) ([]string, error) {
	if s.LogPath == "" || n <= 0 {
		return nil, nil
	}
	f, err := os.Open(s.LogPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening engine log: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("reading engine log: %w", err)
	}
	offset := info.Size() - tailWindow
	if offset < 0 {
		offset = 0
	}
	data, err := io.ReadAll(io.NewSectionReader(f, offset, info.Size()-offset))
	if err != nil {
		return nil, fmt.Errorf("reading engine log: %w", err)
	}

	text := string(data)
	if offset > 0 {
		// Drop the partial first line.
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			text = text[i+1:]
		}
	}
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil, nil
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}
