package resource

import (
	"context"
	"fmt"
	"strings"

	"github.com/mattjoyce/concourse-resource/internal/protocol"
)

//go:generate mockgen -destination=mocks/mock_resource.go -package=mocks github.com/mattjoyce/concourse-resource/internal/resource Resource

// Resource is implemented by every concrete resource type.
type Resource interface {
	// Check returns versions newer than or equal to version, oldest first.
	// An empty version means "from the beginning". Check must not write to disk.
	Check(ctx context.Context, source, version map[string]any) (protocol.CheckResponse, error)

	// Fetch materializes version into dir. Calling it twice with the same arguments
	// must produce the same content and the same returned version.
	Fetch(ctx context.Context, dir string, source, version, params map[string]any) (protocol.Result, error)

	// Update publishes the content of dir as a new version and returns it.
	Update(ctx context.Context, dir string, source, params map[string]any) (protocol.Result, error)
}

// Mode selects the operation of one invocation.
type Mode string

const (
	ModeCheck Mode = "check"
	ModeIn    Mode = "in"
	ModeOut   Mode = "out"
)

// ParseMode accepts check, in (or fetch) and out (or update).
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "check":
		return ModeCheck, nil
	case "in", "fetch", "get":
		return ModeIn, nil
	case "out", "update", "put":
		return ModeOut, nil
	default:
		return "", fmt.Errorf("%w: '%s'", protocol.ErrInvalidOperation, s)
	}
}

// NeedsWorkspace reports whether the mode requires a workspace directory.
func (m Mode) NeedsWorkspace() bool {
	return m == ModeIn || m == ModeOut
}

func (m Mode) String() string {
	return string(m)
}
