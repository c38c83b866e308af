package storage

import (
	"bufio"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "quakebot/pkg/logx"
)

// fileStore keeps one id per line.
//
// Every Record opens the file in append mode, writes the whole line in a
// single write, fsyncs and closes. A trailing partial line left by a crash is
// terminated before the next append so it cannot merge with a new id.
type fileStore struct {
	mirror

	log  logx.Logger
	path string

	wmu          sync.Mutex
	needsNewline bool
}

func openFile(cfg Config, log logx.Logger) (*fileStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = DefaultPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, unavailable("create dir", err)
		}
	}
	return &fileStore{log: log, path: path}, nil
}

func (s *fileStore) Load(ctx context.Context) (IDSet, error) {
	_ = ctx
	s.wmu.Lock()
	defer s.wmu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		cf, cerr := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY, 0o644)
		if cerr != nil {
			return nil, unavailable("create "+s.path, cerr)
		}
		if cerr := cf.Close(); cerr != nil {
			return nil, unavailable("create "+s.path, cerr)
		}
		s.log.Info("dedup file created", logx.String("path", s.path))
		s.needsNewline = false
		return s.replace(IDSet{}), nil
	}
	if err != nil {
		return nil, unavailable("open "+s.path, err)
	}
	defer f.Close()

	ids := IDSet{}
	partial := false
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			partial = !strings.HasSuffix(line, "\n")
			if id := strings.TrimSpace(line); id != "" {
				ids.Add(id)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, unavailable("read "+s.path, err)
		}
	}
	if partial {
		s.log.Warn("dedup file ends with a partial line", logx.String("path", s.path))
	}
	s.needsNewline = partial
	return s.replace(ids), nil
}

func (s *fileStore) Record(ctx context.Context, id string) error {
	_ = ctx
	if !validID(id) {
		return ErrInvalidID
	}
	if !s.add(id) {
		return nil
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	line := id + "\n"
	if s.needsNewline {
		line = "\n" + line
	}
	if err := appendLine(s.path, line); err != nil {
		return unavailable("append "+s.path, err)
	}
	s.needsNewline = false
	return nil
}

func appendLine(path, line string) (err error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err = f.WriteString(line); err != nil {
		return err
	}
	return f.Sync()
}

func (s *fileStore) Close() error { return nil }
