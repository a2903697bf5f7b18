package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/drgolem/fastsink/fastsink"
	"github.com/drgolem/fastsink/internal/config"
	"github.com/drgolem/fastsink/pcmsource"
)

// session is one host with one engine, fed from a pcmsource.
type session struct {
	host *fastsink.Host
	eng  *fastsink.Engine
	log  *slog.Logger

	src      pcmsource.Source
	eof      chan struct{}
	eofOnce  sync.Once
	srcBytes int64
}

func newSession(cfg *config.Config, log *slog.Logger, settings fastsink.Settings, src pcmsource.Source) (*session, error) {
	host, err := fastsink.NewHost(cfg.Host.Workers, fastsink.WithHostLogger(log))
	if err != nil {
		return nil, err
	}

	opts := append(cfg.Stream.EngineOptions(), fastsink.WithLogger(log))
	eng, err := fastsink.NewEngine(host, settings, opts...)
	if err != nil {
		_ = host.Close()
		return nil, err
	}

	s := &session{
		host: host,
		eng:  eng,
		log:  log,
		src:  src,
		eof:  make(chan struct{}),
	}
	if src != nil {
		eng.SetRefillCallback(s.refill)
	}
	return s, nil
}

// refill copies up to n bytes from the source into the engine.
func (s *session) refill(ctx context.Context, e *fastsink.Engine, n int) {
	if ctx.Err() != nil {
		return
	}
	select {
	case <-s.eof:
		return
	default:
	}

	buf := make([]byte, n)
	got, err := io.ReadFull(s.src, buf)
	if got > 0 {
		if _, werr := e.Write(buf[:got]); werr != nil {
			if !errors.Is(werr, fastsink.ErrDestroyed) {
				s.log.Warn("refill write failed", "bytes", got, "error", werr)
			}
			return
		}
		s.srcBytes += int64(got)
	}

	switch {
	case err == nil:
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		s.log.Info("end of source reached", "bytes", s.srcBytes)
		s.eofOnce.Do(func() { close(s.eof) })
	default:
		s.log.Error("source read failed", "error", err)
		s.eofOnce.Do(func() { close(s.eof) })
	}
}

// close tears the engine and host down and returns the final diagnostics.
// Every refill callback has returned once close does.
func (s *session) close() fastsink.Diagnostics {
	s.eng.Destroy()
	d := s.eng.Diagnostics()
	if err := s.host.Close(); err != nil {
		s.log.Error("host close failed", "error", err)
		return d
	}
	s.host.Wait()
	return d
}
