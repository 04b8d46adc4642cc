package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/roach88/retrace/internal/engine"
	"github.com/roach88/retrace/internal/storage"
	"github.com/roach88/retrace/internal/storage/cborlog"
	"github.com/roach88/retrace/internal/store"
)

// ErrNotRecording is returned by Session.Replay when the session is not in
// record mode.
var ErrNotRecording = errors.New("session is not recording")

// Session owns a Dispatcher and the storage behind its mode.
//
// Thread-safety: Dispatcher is safe for concurrent use. Replay and Close
// must not run concurrently with wrapped calls.
type Session struct {
	cfg    Config
	logger *slog.Logger
	opts   []engine.Option
	d      *engine.Dispatcher

	recorder *engine.Recorder
	replayer *engine.Replayer

	mem     *storage.Memory
	db      *store.Store
	traceID string

	closeWriter func() error
	closeReader func() error
}

// Open builds the storage and mode described by cfg. A nil logger means
// cfg.Logger(os.Stderr). opts are applied after the options derived from
// cfg, so they take precedence.
func Open(ctx context.Context, cfg Config, logger *slog.Logger, opts ...engine.Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = cfg.Logger(os.Stderr)
	}

	base := []engine.Option{
		engine.WithLogger(logger),
		engine.WithStallWarning(cfg.StallWarning),
	}
	if cfg.CollisionCheck {
		base = append(base, engine.WithCollisionCheck())
	}

	s := &Session{
		cfg:    cfg,
		logger: logger,
		opts:   append(base, opts...),
	}
	s.d = engine.NewDispatcher(s.opts...)

	var err error
	switch cfg.Mode {
	case ModeRecord:
		err = s.startRecord(ctx)
	case ModeReplay:
		err = s.startReplay(ctx)
	}
	if err != nil {
		s.Close()
		return nil, err
	}

	logger.Info("session opened",
		"mode", cfg.Mode,
		"backend", cfg.Backend,
		"path", cfg.Path,
		"trace", s.traceID,
	)
	return s, nil
}

func (s *Session) openStore() error {
	if s.db != nil {
		return nil
	}
	db, err := store.Open(s.cfg.Path)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	s.db = db
	return nil
}

func (s *Session) startRecord(ctx context.Context) error {
	var w storage.Writer

	switch s.cfg.Backend {
	case BackendMemory:
		s.mem = storage.NewMemory()
		w = s.mem

	case BackendCBOR:
		cw, err := cborlog.Create(s.cfg.Path)
		if err != nil {
			return fmt.Errorf("open session: %w", err)
		}
		w = cw
		s.closeWriter = cw.Close

	case BackendSQLite:
		if err := s.openStore(); err != nil {
			return err
		}
		info, err := s.db.CreateTrace(ctx, s.cfg.TraceName)
		if err != nil {
			return fmt.Errorf("open session: %w", err)
		}
		tw, err := s.db.NewWriter(ctx, info.ID)
		if err != nil {
			return fmt.Errorf("open session: %w", err)
		}
		s.traceID = info.ID
		w = tw
		s.closeWriter = tw.Close
	}

	s.recorder = engine.NewRecorder(w, s.opts...)
	s.d.SetMode(s.recorder)
	return nil
}

func (s *Session) startReplay(ctx context.Context) error {
	var r storage.Reader

	switch s.cfg.Backend {
	case BackendMemory:
		r = s.mem.NewReader()

	case BackendCBOR:
		cr, err := cborlog.Open(s.cfg.Path)
		if err != nil {
			return fmt.Errorf("open session: %w", err)
		}
		r = cr
		s.closeReader = cr.Close

	case BackendSQLite:
		if err := s.openStore(); err != nil {
			return err
		}
		id, err := s.resolveTrace(ctx)
		if err != nil {
			return fmt.Errorf("open session: %w", err)
		}
		tr, err := s.db.NewReader(ctx, id)
		if err != nil {
			return fmt.Errorf("open session: %w", err)
		}
		s.traceID = id
		r = tr
	}

	s.replayer = engine.NewReplayer(r, s.opts...)
	s.d.SetMode(s.replayer)
	return nil
}

func (s *Session) resolveTrace(ctx context.Context) (string, error) {
	if s.traceID != "" {
		return s.traceID, nil
	}
	if s.cfg.TraceID != "" {
		info, err := s.db.GetTrace(ctx, s.cfg.TraceID)
		if err != nil {
			return "", err
		}
		return info.ID, nil
	}
	info, err := s.db.FindTraceByName(ctx, s.cfg.TraceName)
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

// Dispatcher returns the session's dispatcher.
func (s *Session) Dispatcher() *engine.Dispatcher {
	return s.d
}

// Config returns the configuration the session was opened with.
func (s *Session) Config() Config {
	return s.cfg
}

// TraceID returns the SQLite trace being recorded or replayed, or "" for
// other backends.
func (s *Session) TraceID() string {
	return s.traceID
}

// Recorder returns the active recorder, or nil.
func (s *Session) Recorder() *engine.Recorder {
	return s.recorder
}

// Replayer returns the active replayer, or nil.
func (s *Session) Replayer() *engine.Replayer {
	return s.replayer
}

// Replay finishes the recording and switches the dispatcher to replaying
// it. Options are appended to the session's options for the new Replayer.
func (s *Session) Replay(ctx context.Context, opts ...engine.Option) error {
	if s.recorder == nil {
		return ErrNotRecording
	}
	if err := s.finishWriter(); err != nil {
		return fmt.Errorf("replay: %w", err)
	}

	s.opts = append(s.opts, opts...)
	s.recorder = nil
	s.cfg.Mode = ModeReplay
	if err := s.startReplay(ctx); err != nil {
		return fmt.Errorf("replay: %w", err)
	}

	s.logger.Info("session switched to replay",
		"backend", s.cfg.Backend,
		"trace", s.traceID,
	)
	return nil
}

func (s *Session) finishWriter() error {
	if s.closeWriter == nil {
		return nil
	}
	err := s.closeWriter()
	s.closeWriter = nil
	return err
}

// Close releases the session's storage. A recording is flushed and, for
// SQLite, marked closed. The dispatcher is left in passthrough mode.
func (s *Session) Close() error {
	s.d.SetMode(engine.Passthrough())

	var errs []error
	if err := s.finishWriter(); err != nil {
		errs = append(errs, err)
	}
	if s.closeReader != nil {
		if err := s.closeReader(); err != nil {
			errs = append(errs, err)
		}
		s.closeReader = nil
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, err)
		}
		s.db = nil
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}
