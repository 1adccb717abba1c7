// Package server starts a disposable Encryption Server container for a
// test run and removes it afterwards.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// LabelRun tags containers with the run that started them, so stray
	// ones can be found with `docker ps --filter label=eccs-e2e.run`.
	LabelRun = "eccs-e2e.run"

	defaultHostIP = "127.0.0.1"
	pollInterval  = 250 * time.Millisecond
	logTailLines  = 20
)

// Config describes the server to start.
type Config struct {
	Image        string
	Port         int
	Env          map[string]string
	ReadyTimeout time.Duration
	// RunID names the container and labels it.
	RunID string
	// Progress receives image pull output; nil discards it.
	Progress io.Writer
}

// Server is a running server container.
type Server struct {
	rt      Runtime
	id      string
	address string
	logger  *slog.Logger
}

// ReadyError is returned when the server never accepted connections. Logs
// holds the tail of the container output.
type ReadyError struct {
	Address string
	Timeout time.Duration
	Exited  bool
	Logs    string
}

func (e *ReadyError) Error() string {
	msg := fmt.Sprintf("server at %s not ready after %s", e.Address, e.Timeout)
	if e.Exited {
		msg = fmt.Sprintf("server container exited before %s accepted connections", e.Address)
	}
	if e.Logs != "" {
		msg += "\ncontainer logs:\n" + e.Logs
	}
	return msg
}

// Start pulls the image if needed, starts the container with its port
// published on 127.0.0.1 and waits until the port accepts TCP
// connections. On any failure the container is removed again.
func Start(ctx context.Context, rt Runtime, cfg Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Image == "" {
		return nil, fmt.Errorf("no server image configured")
	}
	if err := rt.Ping(ctx); err != nil {
		return nil, err
	}
	if err := rt.EnsureImage(ctx, cfg.Image, cfg.Progress); err != nil {
		return nil, err
	}

	spec := Spec{
		Name:   containerName(cfg.RunID),
		Image:  cfg.Image,
		Env:    envList(cfg.Env),
		Port:   cfg.Port,
		HostIP: defaultHostIP,
		Labels: map[string]string{LabelRun: cfg.RunID},
	}
	id, err := rt.Create(ctx, spec)
	if err != nil {
		return nil, err
	}
	s := &Server{rt: rt, id: id, logger: logger}
	logger.Debug("server container created", "container", shortID(id), "image", cfg.Image)

	if err := s.boot(ctx, cfg); err != nil {
		if rmErr := s.Stop(context.WithoutCancel(ctx)); rmErr != nil {
			logger.Warn("removing server container", "container", shortID(id), "error", rmErr)
		}
		return nil, err
	}
	logger.Info("server ready", "container", shortID(id), "address", s.address)
	return s, nil
}

func (s *Server) boot(ctx context.Context, cfg Config) error {
	if err := s.rt.Start(ctx, s.id); err != nil {
		return err
	}
	port, err := s.rt.HostPort(ctx, s.id, cfg.Port)
	if err != nil {
		return err
	}
	s.address = net.JoinHostPort(defaultHostIP, strconv.Itoa(port))
	return s.waitReady(ctx, cfg.ReadyTimeout)
}

func (s *Server) waitReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var d net.Dialer
	for {
		dialCtx, cancel := context.WithTimeout(ctx, time.Second)
		conn, err := d.DialContext(dialCtx, "tcp", s.address)
		cancel()
		if err == nil {
			conn.Close()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		running, rerr := s.rt.Running(ctx, s.id)
		if rerr == nil && !running {
			return &ReadyError{Address: s.address, Timeout: timeout, Exited: true, Logs: s.logTail(ctx)}
		}
		if time.Now().After(deadline) {
			return &ReadyError{Address: s.address, Timeout: timeout, Logs: s.logTail(ctx)}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (s *Server) logTail(ctx context.Context) string {
	out, err := s.rt.Logs(context.WithoutCancel(ctx), s.id)
	if err != nil {
		s.logger.Debug("reading server logs", "error", err)
		return ""
	}
	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	if len(lines) > logTailLines {
		lines = lines[len(lines)-logTailLines:]
	}
	return strings.Join(lines, "\n")
}

// Address is host:port for the eccs client.
func (s *Server) Address() string {
	return s.address
}

// ID is the container ID.
func (s *Server) ID() string {
	return s.id
}

// Stop force-removes the container. Stopping twice is harmless.
func (s *Server) Stop(ctx context.Context) error {
	if s.id == "" {
		return nil
	}
	err := s.rt.Remove(ctx, s.id)
	if err == nil {
		s.logger.Debug("server container removed", "container", shortID(s.id))
		s.id = ""
	}
	return err
}

// IsReadyError reports whether err came from a server that never
// accepted connections.
func IsReadyError(err error) bool {
	var re *ReadyError
	return errors.As(err, &re)
}

func containerName(runID string) string {
	if runID == "" {
		return ""
	}
	return "eccs-e2e-server-" + runID
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
