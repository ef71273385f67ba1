// Package launchtest provides a testify mock of launch.Runtime.
package launchtest

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// Runtime is a mock launch.Runtime. Set expectations with On/Return.
type Runtime struct {
	mock.Mock
}

// NewRuntime returns a Runtime whose expectations are asserted on cleanup.
func NewRuntime(t interface {
	mock.TestingT
	Cleanup(func())
}) *Runtime {
	m := &Runtime{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *Runtime) RunPlain(ctx context.Context, endpoint string, enableTracing bool, compressionLevel int) error {
	args := m.Called(ctx, endpoint, enableTracing, compressionLevel)
	return args.Error(0)
}

func (m *Runtime) RunSecure(ctx context.Context, endpoint string, enableTracing bool, compressionLevel int, certFile, keyFile string) error {
	args := m.Called(ctx, endpoint, enableTracing, compressionLevel, certFile, keyFile)
	return args.Error(0)
}
