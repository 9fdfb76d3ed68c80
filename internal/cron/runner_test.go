package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vitanips/vitanips-core/internal/config"
)

type fakeSweeper struct {
	noShows, prescriptions, subscriptions int
	err                                   error
}

func (f *fakeSweeper) SweepNoShows(context.Context) (int, error) {
	f.noShows++
	return 2, f.err
}

func (f *fakeSweeper) ExpirePrescriptions(context.Context) (int64, error) {
	f.prescriptions++
	return 1, nil
}

func (f *fakeSweeper) ExpireSubscriptions(context.Context) (int64, error) {
	f.subscriptions++
	return 0, nil
}

type runs map[string][]error

func (r runs) RecordCronRun(job string, err error) {
	r[job] = append(r[job], err)
}

func TestAddSweeps(t *testing.T) {
	r := NewRunner(zap.NewNop())
	sw := &fakeSweeper{}
	require.NoError(t, r.AddSweeps(sw, config.Default().Cron))

	assert.Equal(t, []string{"no_show_sweep", "prescription_expiry", "subscription_expiry"}, r.Jobs())

	rec := runs{}
	r.SetRecorder(rec)
	require.NoError(t, r.RunNow("no_show_sweep"))
	require.NoError(t, r.RunNow("prescription_expiry"))
	assert.Equal(t, 1, sw.noShows)
	assert.Equal(t, 1, sw.prescriptions)
	assert.Len(t, rec["no_show_sweep"], 1)

	sw.err = errors.New("database is locked")
	assert.Error(t, r.RunNow("no_show_sweep"))
	assert.Error(t, rec["no_show_sweep"][1])
}

func TestAddRejectsBadSpecAndDuplicates(t *testing.T) {
	r := NewRunner(zap.NewNop())
	noop := func(context.Context) error { return nil }

	assert.Error(t, r.Add("bad", "every tuesday", noop))
	require.NoError(t, r.Add("tick", "@every 1h", noop))
	assert.Error(t, r.Add("tick", "@hourly", noop))
	assert.Error(t, r.RunNow("missing"))
}

func TestStartStop(t *testing.T) {
	r := NewRunner(zap.NewNop())
	require.NoError(t, r.Start())
	assert.True(t, r.IsRunning())
	assert.Error(t, r.Start())

	r.Stop()
	assert.False(t, r.IsRunning())
	r.Stop()
}
