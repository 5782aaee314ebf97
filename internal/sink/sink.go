// Package sink persists log stream contents under a logical name.
//
// A sink only receives and stores bytes; it never reads back. Every write
// replaces the whole object at name, so callers own accumulation.
package sink

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

const (
	KindFile   = "file"
	KindMinIO  = "minio"
	KindMemory = "memory"
)

type Sink interface {
	WriteOrAppend(ctx context.Context, name string, content []byte) error
}

// ErrInvalidName is returned for names that would escape the sink root.
var ErrInvalidName = errors.New("invalid sink name")

func checkName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if strings.ContainsAny(name, `/\`) || name != path.Base(name) || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
