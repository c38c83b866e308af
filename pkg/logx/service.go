package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	kit "quakebot/internal/transport"
)

const DefaultFilePath = "./quakebot.log"

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Forward ForwardConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// ForwardConfig sends warn+ lines to an operator chat.
type ForwardConfig struct {
	Enabled    bool
	ChatID     int64
	ThreadID   int
	MinLevel   string
	RatePerSec int
}

// Service owns the sinks. Apply rebuilds them; loggers handed out earlier
// pick up the change on their next line.
type Service struct {
	mu   sync.Mutex
	file *os.File
	fw   *forwarder // nil without a sender

	// console is where the console sink writes; os.Stdout outside tests.
	console io.Writer

	root atomic.Pointer[zerolog.Logger]
}

// New builds the service and applies cfg. sender may be nil, in which case
// forwarding is unavailable regardless of cfg.Forward.
func New(cfg Config, sender kit.Sender) (*Service, Logger) {
	setGlobals()
	s := &Service{console: os.Stdout}
	if sender != nil {
		s.fw = newForwarder(sender)
	}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) current() *zerolog.Logger { return s.root.Load() }

// Apply swaps level and sinks. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, consoleWriter(s.console))
	}

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = DefaultFilePath
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: open log file %q: %v\n", path, err)
		} else {
			s.file = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}

	if s.fw != nil {
		s.fw.configure(cfg.Forward)
		if cfg.Forward.Enabled {
			sinks = append(sinks, s.fw)
		}
	}

	// never go silent: a config with every sink off still reaches the console
	if len(sinks) == 0 {
		sinks = append(sinks, consoleWriter(s.console))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

// Close flushes pending forwards and closes the log file.
func (s *Service) Close() error {
	if s.fw != nil {
		s.fw.close()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
