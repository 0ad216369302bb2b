package secrets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	"gopkg.in/ini.v1"
)

var iniOptions = ini.LoadOptions{
	InsensitiveSections: true,
	IgnoreInlineComment: true,
}

// INISource reads sealed values from a section based settings file: one
// section per service, one sealed value per key. The file is read on the
// first lookup.
type INISource struct {
	path string

	mu   sync.RWMutex
	file *ini.File
}

var (
	_ Source = (*INISource)(nil)
	_ Writer = (*INISource)(nil)
	_ Lister = (*INISource)(nil)
)

// NewINISource returns a source backed by the file at path.
func NewINISource(path string) *INISource {
	return &INISource{path: path}
}

// ParseINI builds an in-memory source from raw INI content. Writes are kept
// in memory only.
func ParseINI(data []byte) (*INISource, error) {
	f, err := ini.LoadSources(iniOptions, data)
	if err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	return &INISource{file: f}, nil
}

func (s *INISource) Lookup(_ context.Context, ref Reference) (Sealed, error) {
	f, err := s.load()
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sec, err := f.GetSection(ref.Service)
	if err != nil {
		return nil, fmt.Errorf("section %q: %w", ref.Service, ErrNotFound)
	}
	if !sec.HasKey(ref.Key) {
		return nil, fmt.Errorf("key %q in section %q: %w", ref.Key, ref.Service, ErrNotFound)
	}
	return ParseSealed(sec.Key(ref.Key).String())
}

func (s *INISource) Store(_ context.Context, ref Reference, sealed Sealed) error {
	f, err := s.load()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f.Section(ref.Service).Key(ref.Key).SetValue(sealed.String())
	if s.path == "" {
		return nil
	}
	if err := f.SaveTo(s.path); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

func (s *INISource) List(_ context.Context) ([]Reference, error) {
	f, err := s.load()
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var refs []Reference
	for _, sec := range f.Sections() {
		if strings.EqualFold(sec.Name(), ini.DefaultSection) {
			continue
		}
		for _, key := range sec.Keys() {
			refs = append(refs, Reference{Service: sec.Name(), Key: key.Name()})
		}
	}
	return refs, nil
}

func (s *INISource) load() (*ini.File, error) {
	s.mu.RLock()
	f := s.file
	s.mu.RUnlock()
	if f != nil {
		return f, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		return s.file, nil
	}
	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		s.file = ini.Empty(iniOptions)
		return s.file, nil
	}
	f, err := ini.LoadSources(iniOptions, s.path)
	if err != nil {
		return nil, fmt.Errorf("load settings %s: %w", s.path, err)
	}
	s.file = f
	return f, nil
}
