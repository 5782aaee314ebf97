package remotestore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

const DefaultCheckTimeout = 3 * time.Second

// Checked is the only way the validation and risk components reach the
// record store. It bounds every call with a timeout, keeps running when the
// caller abandons its context, collapses identical concurrent lookups, and
// tags every failure with ErrUnavailable.
type Checked struct {
	inner   Store
	timeout time.Duration
	group   singleflight.Group
}

func NewChecked(inner Store, timeout time.Duration) *Checked {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return &Checked{inner: inner, timeout: timeout}
}

func (c *Checked) context(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
}

func (c *Checked) Count(ctx context.Context, entityType, field string, value any) (int64, error) {
	if c == nil || c.inner == nil {
		return 0, fmt.Errorf("%w: no record store configured", ErrUnavailable)
	}
	key := "count\x00" + entityType + "\x00" + field + "\x00" + ValueKey(value)
	v, err, _ := c.group.Do(key, func() (any, error) {
		cctx, cancel := c.context(ctx)
		defer cancel()
		return c.inner.Count(cctx, entityType, field, value)
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return v.(int64), nil
}

func (c *Checked) Exists(ctx context.Context, entityType string, filter map[string]any) (bool, error) {
	if c == nil || c.inner == nil {
		return false, fmt.Errorf("%w: no record store configured", ErrUnavailable)
	}
	v, err, _ := c.group.Do("exists\x00"+entityType+"\x00"+filterKey(filter), func() (any, error) {
		cctx, cancel := c.context(ctx)
		defer cancel()
		return c.inner.Exists(cctx, entityType, filter)
	})
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return v.(bool), nil
}

func filterKey(filter map[string]any) string {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\x00", k, ValueKey(filter[k]))
	}
	return b.String()
}

// ValueKey identifies a lookup value for memoization. The dynamic type is
// part of the key, so 1 and "1" are distinct lookups.
func ValueKey(v any) string {
	return fmt.Sprintf("%T:%v", v, v)
}
