package resource

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mattjoyce/concourse-resource/internal/protocol"
	"github.com/mattjoyce/concourse-resource/internal/workspace"
)

// VersionFile is written into the workspace by Timestamp.Fetch.
const VersionFile = "version.json"

// Timestamp is the stand-in resource: every version is a wall-clock timestamp.
// It proves the protocol wiring and carries no real content.
type Timestamp struct {
	// Now defaults to time.Now.
	Now func() time.Time
}

var _ Resource = (*Timestamp)(nil)

// Check returns the current timestamp. When version carries a timestamp it is
// returned first, followed by the current one if it is newer.
func (t *Timestamp) Check(ctx context.Context, source, version map[string]any) (protocol.CheckResponse, error) {
	now := t.stamp()

	if _, ok := version["timestamp"]; !ok {
		return protocol.CheckResponse{{"timestamp": now}}, nil
	}

	given := protocol.VersionFromMap(version)
	prevValue, err := strconv.ParseFloat(given["timestamp"], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp version %q: %w", given["timestamp"], err)
	}
	nowValue, _ := strconv.ParseFloat(now, 64)

	versions := protocol.CheckResponse{given}
	if nowValue > prevValue {
		versions = append(versions, protocol.Version{"timestamp": now})
	}
	return versions, nil
}

// Fetch writes the requested version to dir/version.json and echoes it back.
// An empty version is replaced by the current timestamp.
func (t *Timestamp) Fetch(ctx context.Context, dir string, source, version, params map[string]any) (protocol.Result, error) {
	v := protocol.VersionFromMap(version)
	if len(v) == 0 {
		v = protocol.Version{"timestamp": t.stamp()}
	}

	data, err := protocol.MarshalResponse(v)
	if err != nil {
		return protocol.Result{}, err
	}
	if err := os.WriteFile(filepath.Join(dir, VersionFile), data, 0o644); err != nil {
		return protocol.Result{}, fmt.Errorf("write version file: %w", err)
	}

	return protocol.Result{Version: v, Metadata: protocol.Metadata{}}, nil
}

// Update records a new timestamp version along with a digest of dir.
func (t *Timestamp) Update(ctx context.Context, dir string, source, params map[string]any) (protocol.Result, error) {
	digest, err := workspace.Workspace{Dir: dir}.Digest(ctx)
	if err != nil {
		return protocol.Result{}, err
	}

	return protocol.Result{
		Version: protocol.Version{"timestamp": t.stamp()},
		Metadata: protocol.MetadataFromMap(map[string]any{
			"files":            digest.Files,
			"workspace_blake3": digest.Sum,
		}),
	}, nil
}

// stamp formats the current time as decimal seconds with microsecond precision.
func (t *Timestamp) stamp() string {
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	ts := now()
	return fmt.Sprintf("%d.%06d", ts.Unix(), ts.Nanosecond()/1000)
}
