package producer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Source yields encoded JPEG frames.
type Source interface {
	// Next returns the next frame, or io.EOF when the source is exhausted.
	Next() ([]byte, error)
	Close() error
}

// DirSource replays the JPEG files of a directory in lexical order.
type DirSource struct {
	files []string
	loop  bool
	next  int
}

// NewDirSource lists the .jpg and .jpeg files in dir. With loop set the
// source restarts from the first file when it runs out.
func NewDirSource(dir string, loop bool) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no jpeg frames in %s", dir)
	}
	sort.Strings(files)
	return &DirSource{files: files, loop: loop}, nil
}

// Next implements Source.
func (s *DirSource) Next() ([]byte, error) {
	if s.next >= len(s.files) {
		if !s.loop {
			return nil, io.EOF
		}
		s.next = 0
	}
	path := s.files[s.next]
	s.next++
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("empty frame file " + filepath.Base(path))
	}
	return data, nil
}

// Close implements Source.
func (s *DirSource) Close() error { return nil }

// Len returns the number of frames in one pass.
func (s *DirSource) Len() int { return len(s.files) }
