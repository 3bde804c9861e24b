package main

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/eventflow/errors"
	"github.com/c360/eventflow/pipeline"
	"github.com/c360/eventflow/pkg/retry"
	"github.com/c360/eventflow/value"
)

// maxLineBytes bounds one stdin event line.
const maxLineBytes = 1 << 20

// stdinSource reads one JSON document per line and feeds it into a
// pipeline input. It registers for circuit-breaker notifications and
// pauses reading while the circuit is triggered, so backpressure
// reaches all the way to the producer.
type stdinSource struct {
	id     string
	r      io.Reader
	target *pipeline.Pipeline
	input  string
	logger *slog.Logger
	paused atomic.Bool
}

func newStdinSource(r io.Reader, target *pipeline.Pipeline, logger *slog.Logger) *stdinSource {
	return &stdinSource{
		id:     "stdin",
		r:      r,
		target: target,
		input:  pipeline.PortIn,
		logger: logger,
	}
}

func (s *stdinSource) ID() string { return s.id }

func (s *stdinSource) OnCircuitBreaker(action pipeline.CBAction) {
	switch action {
	case pipeline.CBTrigger:
		if !s.paused.Swap(true) {
			s.logger.Warn("circuit triggered, pausing input")
		}
	case pipeline.CBRestore:
		if s.paused.Swap(false) {
			s.logger.Info("circuit restored, resuming input")
		}
	}
}

// Run reads until EOF or cancellation. Lines that fail to parse are
// logged and skipped; the stream keeps flowing.
func (s *stdinSource) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		if err := s.waitWhilePaused(ctx); err != nil {
			return nil
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		data, err := value.FromJSON(line)
		if err != nil {
			s.logger.Warn("skipping malformed input line", "error", err)
			continue
		}
		event := pipeline.NewEvent(data, "stdin://eventflow")
		if err := s.target.SendEvent(s.input, event); err != nil {
			if errors.Is(err, errors.ErrPipelineStopped) {
				return nil
			}
			return errors.Wrap(err, "stdinSource", "Run", "feeding pipeline")
		}
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, os.ErrClosed) {
			// Shutdown closed the input under us.
			return nil
		}
		return errors.WrapTransient(err, "stdinSource", "Run", "reading stdin")
	}
	s.logger.Info("input stream closed")
	return nil
}

func (s *stdinSource) waitWhilePaused(ctx context.Context) error {
	for s.paused.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	return nil
}

// writerSink writes each delivered event as one JSON line. A write
// failure flows back upstream as a fail insight; the first successful
// write after a failure sends the ack so paused sources resume.
type writerSink struct {
	id       string
	upstream *pipeline.Pipeline
	logger   *slog.Logger
	failed   atomic.Bool
	closed   atomic.Bool

	mu  sync.Mutex
	out io.Writer
	w   *bufio.Writer
}

func newWriterSink(id string, w io.Writer, upstream *pipeline.Pipeline, logger *slog.Logger) *writerSink {
	return &writerSink{
		id:       id,
		upstream: upstream,
		logger:   logger,
		out:      w,
		w:        bufio.NewWriter(w),
	}
}

func (s *writerSink) ID() string { return s.id }

func (s *writerSink) Deliver(_ string, event pipeline.Event) error {
	if s.closed.Load() {
		return errors.WrapTransient(errors.ErrChannelClosed, "writerSink", "Deliver", s.id)
	}
	data, err := value.ToJSON(event.Data)
	if err != nil {
		return errors.WrapInvalid(err, "writerSink", "Deliver", "encoding event")
	}

	werr := retry.Do(context.Background(), retry.DefaultConfig(), func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, err := s.w.Write(append(data, '\n')); err != nil {
			// bufio errors are sticky; start the next attempt clean.
			s.w.Reset(s.out)
			return err
		}
		if err := s.w.Flush(); err != nil {
			s.w.Reset(s.out)
			return err
		}
		return nil
	})

	if werr != nil {
		s.failed.Store(true)
		insight := pipeline.NewInsight(pipeline.CBFail)
		if ierr := s.upstream.SendInsight(insight); ierr != nil {
			s.logger.Error("failed to report write failure", "error", ierr)
		}
		return errors.WrapTransient(werr, "writerSink", "Deliver", "writing event")
	}
	if s.failed.Swap(false) {
		if ierr := s.upstream.SendInsight(pipeline.NewInsight(pipeline.CBAck)); ierr != nil {
			s.logger.Error("failed to report write recovery", "error", ierr)
		}
	}
	return nil
}

// Close flushes buffered output and rejects further deliveries.
func (s *writerSink) Close() error {
	s.closed.Store(true)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		return errors.WrapTransient(err, "writerSink", "Close", s.id)
	}
	return nil
}
