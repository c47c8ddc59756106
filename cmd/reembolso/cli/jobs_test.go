package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/reembolso/jobs"
)

type stubOps struct {
	triggered string
	by        int64
	stats     QueueStats
	scheduled []*asynq.TaskInfo
	err       error
}

func (s *stubOps) Trigger(ctx context.Context, name string, requestedBy int64) (*asynq.TaskInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.triggered = name
	s.by = requestedBy
	return &asynq.TaskInfo{ID: "t-1", Type: name, Queue: jobs.QueueDefault}, nil
}

func (s *stubOps) InspectQueue(ctx context.Context) (QueueStats, error) {
	return s.stats, s.err
}

func (s *stubOps) ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	return s.scheduled, s.err
}

func TestRunJobsTriggerDefaultsToIdentityRefresh(t *testing.T) {
	ops := &stubOps{}
	out := new(bytes.Buffer)
	require.NoError(t, runJobs(context.Background(), ops, []string{"trigger", "-by", "42"}, out))
	assert.Equal(t, jobs.TaskIdentityRefresh, ops.triggered)
	assert.Equal(t, int64(42), ops.by)
	assert.Contains(t, out.String(), "id=t-1")
}

func TestRunJobsStats(t *testing.T) {
	ops := &stubOps{stats: QueueStats{Queue: jobs.QueueDefault, Pending: 2, Retry: 1}}
	out := new(bytes.Buffer)
	require.NoError(t, runJobs(context.Background(), ops, []string{"stats"}, out))
	assert.Equal(t, "queue=default pending=2 active=0 scheduled=0 retry=1 archived=0\n", out.String())
}

func TestRunJobsScheduled(t *testing.T) {
	next := time.Date(2026, 1, 2, 6, 0, 0, 0, time.UTC)
	ops := &stubOps{scheduled: []*asynq.TaskInfo{{ID: "a", Type: jobs.TaskIdentityRefresh, NextProcessAt: next}}}
	out := new(bytes.Buffer)
	require.NoError(t, runJobs(context.Background(), ops, []string{"scheduled"}, out))
	assert.Equal(t, "a identity:refresh next=2026-01-02T06:00:00Z\n", out.String())
}

func TestRunJobsErrors(t *testing.T) {
	out := new(bytes.Buffer)
	assert.Error(t, runJobs(context.Background(), &stubOps{}, nil, out))
	assert.Error(t, runJobs(context.Background(), &stubOps{}, []string{"purge"}, out))

	boom := errors.New("redis down")
	assert.ErrorIs(t, runJobs(context.Background(), &stubOps{err: boom}, []string{"trigger"}, out), boom)
}
