package redis_admin

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportBuilderStatus(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		rb := NewReportBuilder(nil)
		rb.Scan()
		rb.Succeed()
		rep := rb.Finalize("", nil)
		assert.Equal(t, StatusOK, rep.Status)
		assert.Equal(t, int64(1), rep.Scanned)
		assert.Equal(t, int64(1), rep.Succeeded)
		assert.False(t, rep.FinishedAt.Before(rep.StartedAt))
	})

	t.Run("partial failure", func(t *testing.T) {
		rb := NewReportBuilder(nil)
		rb.Scan()
		rb.Succeed()
		rb.Scan()
		rb.Fail("user:1", &TypeMismatchError{Key: "user:1", Want: TypeHash, Got: TypeString})
		rep := rb.Finalize("", nil)
		assert.Equal(t, StatusPartialFailure, rep.Status)
		require.Len(t, rep.Errors, 1)
		assert.Equal(t, "user:1", rep.Errors[0].Key)
		assert.Equal(t, KindTypeMismatch, rep.Errors[0].Kind)
	})

	t.Run("fatal forces failed", func(t *testing.T) {
		rb := NewReportBuilder(nil)
		fatal := &ConnectionError{Op: "SCAN", Err: errors.New("reset")}
		rep := rb.Finalize("", fatal)
		assert.Equal(t, StatusFailed, rep.Status)
		assert.Same(t, fatal, rep.Fatal.(*ConnectionError))
	})

	t.Run("explicit status wins", func(t *testing.T) {
		rb := NewReportBuilder(nil)
		rb.Scan()
		rb.Fail("k", errors.New("x"))
		rep := rb.Finalize(StatusCancelled, nil)
		assert.Equal(t, StatusCancelled, rep.Status)
	})
}

func TestReportBuilderSkipRecorded(t *testing.T) {
	rb := NewReportBuilder(nil)
	rb.Scan()
	rb.SkipRecorded("sess:9", KindExpired, "recorded ttl elapsed before import")
	rep := rb.Finalize("", nil)
	assert.Equal(t, int64(1), rep.Skipped)
	assert.Equal(t, int64(0), rep.Failed)
	assert.Equal(t, StatusOK, rep.Status)
	require.Len(t, rep.Errors, 1)
	assert.Equal(t, KindExpired, rep.Errors[0].Kind)
}

func TestReportBuilderProgress(t *testing.T) {
	var snaps []Progress
	rb := NewReportBuilder(func(p Progress) { snaps = append(snaps, p) })
	rb.Scan()
	rb.Succeed()
	rb.Scan()
	rb.Skip()
	require.Len(t, snaps, 4)
	last := snaps[len(snaps)-1]
	assert.Equal(t, Progress{Scanned: 2, Succeeded: 1, Skipped: 1}, last)
	assert.Equal(t, last, rb.Snapshot())
}
