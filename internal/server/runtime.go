package server

import (
	"context"
	"io"
)

// Spec describes the server container to create.
type Spec struct {
	Name  string
	Image string
	Env   []string
	// Port is the container port the server listens on. It is published
	// on HostIP with a host port chosen by the engine.
	Port   int
	HostIP string
	Labels map[string]string
}

// Runtime is the container engine the server runs on.
type Runtime interface {
	Ping(ctx context.Context) error
	// EnsureImage pulls image unless it is already present. Pull progress
	// is written to progress when it is non-nil.
	EnsureImage(ctx context.Context, image string, progress io.Writer) error
	Create(ctx context.Context, spec Spec) (string, error)
	Start(ctx context.Context, id string) error
	// HostPort returns the host port published for containerPort.
	HostPort(ctx context.Context, id string, containerPort int) (int, error)
	// Running reports whether the container is still running.
	Running(ctx context.Context, id string) (bool, error)
	// Logs returns everything the container has written so far.
	Logs(ctx context.Context, id string) ([]byte, error)
	// Remove force-removes the container. A missing container is not an
	// error.
	Remove(ctx context.Context, id string) error
	Close() error
}
