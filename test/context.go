// Package test contains helpers for tests of components that expect the
// values run puts into the root context.
package test

import (
	"context"
	"testing"

	"github.com/ridge/harbor/tlog"
)

// Context returns a context carrying a verbose logger named after the test
func Context(t *testing.T) context.Context {
	return tlog.WithLogger(context.Background(), tlog.NewForTesting(t))
}
