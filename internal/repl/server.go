package repl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sqllink/sqllink/internal/observability"
	"github.com/sqllink/sqllink/internal/query"
)

const DefaultMaxLineBytes = 16 << 20

type Submitter interface {
	Submit(ctx context.Context, conn query.Conn, request query.Request) query.Response
}

// Server reads one JSON request per line and writes one JSON response per
// line. Requests run concurrently; response lines are never interleaved.
type Server struct {
	Pool         Submitter
	Conn         query.Conn
	Decoder      Decoder
	Logger       *slog.Logger
	MaxLineBytes int
}

// Serve returns after in has been drained and every accepted request has been
// answered, or once ctx ends and in-flight requests have been answered.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	if s.Pool == nil || s.Conn == nil {
		return fmt.Errorf("repl server requires a pool and a connection")
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	maxLine := s.MaxLineBytes
	if maxLine <= 0 {
		maxLine = DefaultMaxLineBytes
	}
	writer := &lineWriter{out: out}

	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		var readErr error
		// scanErr is filled before lines closes so the drain path never blocks.
		defer func() {
			scanErr <- readErr
			close(lines)
		}()
		initial := 64 * 1024
		if maxLine < initial {
			initial = maxLine
		}
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, initial), maxLine)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			select {
			case lines <- append([]byte(nil), line...):
			case <-ctx.Done():
				return
			}
		}
		readErr = scanner.Err()
	}()

	var inFlight errgroup.Group
	for {
		select {
		case <-ctx.Done():
			_ = inFlight.Wait()
			return nil
		case line, ok := <-lines:
			if !ok {
				_ = inFlight.Wait()
				if err := <-scanErr; err != nil {
					return fmt.Errorf("read requests: %w", err)
				}
				return nil
			}
			request, err := s.Decoder.Decode(line)
			if err != nil {
				observability.ObserveLine(false)
				logger.Warn("rejected request line",
					slog.String("msg_id", string(request.ID)),
					slog.Any("error", err),
				)
				if writeErr := writer.write(query.ErrorResponse(request.ID, err.Error())); writeErr != nil {
					return writeErr
				}
				continue
			}
			observability.ObserveLine(true)
			requestCtx := observability.ContextWithMsgID(ctx, string(request.ID))
			inFlight.Go(func() error {
				attrs := []any{
					slog.String("msg_id", observability.MsgIDFromContext(requestCtx)),
					slog.String("mode", request.Mode.String()),
					slog.Duration("timeout", request.EffectiveTimeout()),
				}
				if !request.SentAt.IsZero() {
					attrs = append(attrs, slog.Duration("transit", request.SubmittedAt.Sub(request.SentAt)))
				}
				logger.DebugContext(requestCtx, "dispatching request", attrs...)
				response := s.Pool.Submit(requestCtx, s.Conn, request)
				if err := writer.write(response); err != nil {
					logger.Error("write response failed",
						slog.String("msg_id", string(request.ID)),
						slog.Any("error", err),
					)
				}
				return nil
			})
		}
	}
}

type lineWriter struct {
	mu  sync.Mutex
	out io.Writer
}

func (w *lineWriter) write(response query.Response) error {
	payload, err := json.Marshal(response)
	if err != nil {
		payload, err = json.Marshal(query.ErrorResponse(response.MsgID, err.Error()))
		if err != nil {
			return fmt.Errorf("encode response: %w", err)
		}
	}
	payload = append(payload, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.out.Write(payload); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}
