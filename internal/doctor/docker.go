package doctor

import (
	"context"
	"fmt"
	"io"

	"github.com/majorcontext/eccs-e2e/internal/ui"
)

// DockerDaemon is the part of the container runtime the Docker section
// checks.
type DockerDaemon interface {
	Ping(ctx context.Context) error
	DaemonVersion(ctx context.Context) (string, error)
}

// DockerSection checks the Docker daemon when a server image is
// configured.
type DockerSection struct {
	Image string
	// Connect opens the daemon; it is only called when Image is set.
	Connect func() (DockerDaemon, func() error, error)
}

func (s *DockerSection) Name() string { return "Docker" }

func (s *DockerSection) Print(w io.Writer) error {
	if s.Image == "" {
		fmt.Fprintln(w, ui.Dim("No server image configured; the server is expected to be running"))
		return nil
	}
	d, closeFn, err := s.Connect()
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()
	if err := d.Ping(ctx); err != nil {
		fmt.Fprintf(w, "%s %v\n", ui.FailTag(), err)
		return nil
	}
	v, err := d.DaemonVersion(ctx)
	if err != nil {
		v = "unknown"
	}
	fmt.Fprintf(w, "%s daemon %s, image %s\n", ui.OKTag(), v, s.Image)
	return nil
}
