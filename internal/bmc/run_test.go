package bmc

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

type fakeOperation struct {
	mu      sync.Mutex
	fail    map[string]bool
	applied []string
}

func (f *fakeOperation) Name() string { return "fake" }

func (f *fakeOperation) Apply(_ context.Context, target Target) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.applied = append(f.applied, target.IP.String())

	if f.fail[target.IP.String()] {
		return errBoom
	}

	return nil
}

func targets(ips ...string) []Target {
	t := make([]Target, 0, len(ips))
	for _, ip := range ips {
		t = append(t, Target{IP: net.ParseIP(ip), MAC: "mac-" + ip, Serial: "sn-" + ip})
	}

	return t
}

func TestRun(t *testing.T) {
	op := &fakeOperation{fail: map[string]bool{"10.0.0.2": true}}

	r := NewRunner(3, logrus.New())
	report := r.Run(context.Background(), targets("10.0.0.10", "10.0.0.2", "10.0.0.1"), op)

	assert.NotEqual(t, uuid.Nil, report.RunID)
	assert.Equal(t, "fake", report.Operation)
	assert.Len(t, op.applied, 3)

	require.Len(t, report.Succeeded, 2)
	assert.Equal(t, "10.0.0.1", report.Succeeded[0].IP.String())
	assert.Equal(t, "10.0.0.10", report.Succeeded[1].IP.String())

	require.Len(t, report.Failed, 1)
	assert.Equal(t, "10.0.0.2", report.Failed[0].Target.IP.String())
	assert.ErrorIs(t, report.Err(), errBoom)

	buf := &bytes.Buffer{}
	report.Print(buf)

	assert.Contains(t, buf.String(), "SUCCESSFUL (2):")
	assert.Contains(t, buf.String(), "FAILED (1):")
	assert.Contains(t, buf.String(), "10.0.0.2\tmac-10.0.0.2\tsn-10.0.0.2\tboom")
}

func TestRunCanceled(t *testing.T) {
	op := &fakeOperation{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := NewRunner(0, logrus.New()).Run(ctx, targets("10.0.0.1", "10.0.0.2"), op)

	assert.Empty(t, op.applied)
	assert.Empty(t, report.Succeeded)
	assert.Len(t, report.Failed, 2)
	assert.ErrorIs(t, report.Err(), context.Canceled)
}

func TestReportErrNil(t *testing.T) {
	report := &Report{Succeeded: targets("10.0.0.1")}
	assert.NoError(t, report.Err())
}
