package pipewire

import (
	"context"
	"strings"

	"github.com/stripdeck/stripdeck/internal/errors"
)

// Direction selects which side of a node's ports to list.
type Direction int

const (
	DirInput  Direction = iota // ports that consume audio
	DirOutput                  // ports that produce audio
)

// ChannelRole is the stereo position of a port, derived from its name.
type ChannelRole int

const (
	RoleUnknown ChannelRole = iota
	RoleLeft
	RoleRight
)

// Port is one canonical node:port endpoint.
type Port struct {
	Node string
	Name string
	Role ChannelRole
}

// String returns the node:port token pw-link expects.
func (p Port) String() string {
	return p.Node + ":" + p.Name
}

// ParsePort splits a node:port token into a typed Port.
func ParsePort(token string) (Port, bool) {
	idx := strings.LastIndex(token, ":")
	if idx <= 0 || idx == len(token)-1 {
		return Port{}, false
	}
	name := token[idx+1:]
	return Port{
		Node: token[:idx],
		Name: name,
		Role: classifyChannel(name),
	}, true
}

func classifyChannel(portName string) ChannelRole {
	lower := strings.ToLower(portName)
	switch {
	case strings.Contains(portName, "FL") || strings.Contains(lower, "left"):
		return RoleLeft
	case strings.Contains(portName, "FR") || strings.Contains(lower, "right"):
		return RoleRight
	default:
		return RoleUnknown
	}
}

// Ports lists a node's ports in the given direction, extracting canonical
// node:port tokens from the pw-link listing. Link decoration lines (indented,
// arrow-prefixed) are skipped.
func (d *Discovery) Ports(ctx context.Context, nodeName string, dir Direction) ([]Port, error) {
	flag := "-o"
	if dir == DirInput {
		flag = "-i"
	}
	out, err := d.runner.Run(ctx, "pw-link", flag)
	if err != nil {
		return nil, err
	}

	prefix := nodeName + ":"
	var ports []Port
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			continue
		}
		token := strings.TrimSpace(line)
		if token == "" || strings.Contains(token, "|->") || strings.Contains(token, "|<-") {
			continue
		}
		if !strings.HasPrefix(token, prefix) {
			continue
		}
		if port, ok := ParsePort(token); ok {
			ports = append(ports, port)
		}
	}
	return ports, nil
}

// Link connects two ports. An "already exists" response counts as success:
// link creation is idempotent at this layer.
func (d *Discovery) Link(ctx context.Context, src, dst Port) (bool, error) {
	_, err := d.runner.Run(ctx, "pw-link", src.String(), dst.String())
	if err != nil {
		if isAlreadyExists(err) {
			return true, nil
		}
		return false, err
	}
	d.Invalidate()
	return true, nil
}

// Unlink disconnects two ports. Absence of the link is not an error.
func (d *Discovery) Unlink(ctx context.Context, src, dst Port) error {
	_, err := d.runner.Run(ctx, "pw-link", "-d", src.String(), dst.String())
	if err != nil && !isNotFound(err) {
		return err
	}
	d.Invalidate()
	return nil
}

func isAlreadyExists(err error) bool {
	msg := strings.ToLower(errorText(err))
	return strings.Contains(msg, "file exists") || strings.Contains(msg, "already exists")
}

func isNotFound(err error) bool {
	msg := strings.ToLower(errorText(err))
	return strings.Contains(msg, "no such") || strings.Contains(msg, "not found")
}

// errorText folds the enhanced error's stderr context into the match text so
// server-side phrasing is caught wherever it surfaces.
func errorText(err error) string {
	if err == nil {
		return ""
	}
	text := err.Error()
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		if stderr, ok := ee.GetContext()["stderr"].(string); ok {
			text += " " + stderr
		}
	}
	return text
}
