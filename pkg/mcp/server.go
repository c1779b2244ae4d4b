package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// framing is how a message was delimited on the wire. Responses use the
// same framing as the request they answer.
type framing int

const (
	framingLine framing = iota
	framingHeader
)

// maxFrameBytes caps a Content-Length framed body.
const maxFrameBytes = maxHTTPBodyBytes

// errBadFrame marks a header block that cannot be honoured. The session
// answers with an error and keeps reading.
var errBadFrame = errors.New("bad frame")

type message struct {
	payload []byte
	framing framing
}

// MessageHandler answers one raw JSON-RPC message. The boolean is false when
// no response is owed. *Dispatcher is the local implementation.
type MessageHandler interface {
	HandleMessage(ctx context.Context, payload []byte) (*Response, bool)
}

// Server serves a MessageHandler over a byte stream, one request at a time.
type Server struct {
	handler MessageHandler
	logger  *slog.Logger
}

func NewServer(handler MessageHandler) *Server {
	return &Server{handler: handler}
}

// SetLogger sets the logger for the server and, when it accepts one, its
// handler.
func (s *Server) SetLogger(logger *slog.Logger) {
	s.logger = logger
	if l, ok := s.handler.(interface{ SetLogger(*slog.Logger) }); ok {
		l.SetLogger(logger)
	}
}

// Serve reads requests from reader until EOF or ctx is done and writes
// responses to writer. A failure while handling one message is logged and
// the loop moves on to the next one.
func (s *Server) Serve(ctx context.Context, reader io.Reader, writer io.Writer) error {
	bufReader := bufio.NewReader(reader)
	bufWriter := bufio.NewWriter(writer)

	for {
		if ctx.Err() != nil {
			return nil
		}
		msg, err := readMessage(bufReader)
		if errors.Is(err, errBadFrame) {
			s.logWarn("mcp_frame_rejected", "error", err)
			resp := newError(nil, &RPCError{Code: CodeInvalidRequest, Message: "Invalid Request", Data: ErrorDetails{Details: err.Error()}})
			if err := s.writeResponse(bufWriter, resp, framingHeader); err != nil {
				s.logError("mcp_write_failed", "error", err)
				return err
			}
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			s.logError("mcp_read_failed", "error", err)
			return err
		}
		if err := s.serveMessage(ctx, msg, bufWriter); err != nil {
			s.logError("mcp_write_failed", "error", err)
			return err
		}
	}
}

func (s *Server) ServeStdio(ctx context.Context) error {
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

func (s *Server) serveMessage(ctx context.Context, msg message, w *bufio.Writer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logError("mcp_serve_panic", "panic", fmt.Sprint(r))
			err = nil
		}
	}()

	resp, ok := s.handler.HandleMessage(ctx, msg.payload)
	if !ok {
		return nil
	}
	return s.writeResponse(w, resp, msg.framing)
}

func (s *Server) writeResponse(w *bufio.Writer, resp *Response, f framing) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		s.logError("mcp_encode_failed", "error", err)
		payload, err = json.Marshal(newError(resp.ID, internalError(err)))
		if err != nil {
			return err
		}
	}
	return writeMessage(w, payload, f)
}

func writeMessage(w *bufio.Writer, payload []byte, f framing) error {
	if f == framingHeader {
		if _, err := fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(payload)); err != nil {
			return err
		}
		if _, err := w.Write(payload); err != nil {
			return err
		}
		return w.Flush()
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}

// readMessage accepts newline-delimited JSON as well as LSP-style
// Content-Length framed messages.
func readMessage(r *bufio.Reader) (message, error) {
	for {
		line, err := r.ReadString('\n')
		if err != nil && len(line) == 0 {
			return message{}, err
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if err != nil {
				return message{}, err
			}
			continue
		}
		if !isHeaderLine(trimmed) {
			return message{payload: []byte(trimmed), framing: framingLine}, nil
		}

		contentLength, parseErr := parseContentLength(trimmed)
		if parseErr != nil {
			return message{}, parseErr
		}
		for {
			headerLine, readErr := r.ReadString('\n')
			if readErr != nil && len(headerLine) == 0 {
				return message{}, readErr
			}
			header := strings.TrimRight(headerLine, "\r\n")
			if header == "" {
				break
			}
			if n, ok, err := headerContentLength(header); err != nil {
				return message{}, err
			} else if ok {
				contentLength = n
			}
		}

		if contentLength <= 0 {
			return message{}, fmt.Errorf("%w: missing Content-Length", errBadFrame)
		}
		if contentLength > maxFrameBytes {
			return message{}, fmt.Errorf("%w: Content-Length %d exceeds %d bytes", errBadFrame, contentLength, maxFrameBytes)
		}
		payload := make([]byte, contentLength)
		if _, err := io.ReadFull(r, payload); err != nil {
			return message{}, err
		}
		return message{payload: payload, framing: framingHeader}, nil
	}
}

// isHeaderLine reports whether line looks like "Name: value" rather than a
// JSON body.
func isHeaderLine(line string) bool {
	if strings.HasPrefix(line, "{") || strings.HasPrefix(line, "[") {
		return false
	}
	name, _, ok := strings.Cut(line, ":")
	return ok && name != "" && !strings.ContainsAny(name, " \t\"{")
}

func parseContentLength(line string) (int, error) {
	n, _, err := headerContentLength(line)
	return n, err
}

func headerContentLength(header string) (int, bool, error) {
	name, value, ok := strings.Cut(header, ":")
	if !ok || !strings.EqualFold(strings.TrimSpace(name), "content-length") {
		return 0, false, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, false, fmt.Errorf("%w: invalid Content-Length: %v", errBadFrame, err)
	}
	return n, true, nil
}

func (s *Server) logWarn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func (s *Server) logError(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Error(msg, args...)
	}
}
