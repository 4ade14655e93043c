package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aqiguard/internal/contracts"
	"github.com/wonny/aqiguard/internal/selfcheck"
	"github.com/wonny/aqiguard/pkg/config"
	"github.com/wonny/aqiguard/pkg/logger"
)

type recordingRunner struct {
	mu      sync.Mutex
	configs []selfcheck.Config
	fail    map[string]error
}

func (r *recordingRunner) Run(ctx context.Context, cfg selfcheck.Config) (*contracts.SelfCheckReport, error) {
	r.mu.Lock()
	r.configs = append(r.configs, cfg)
	r.mu.Unlock()

	if err := r.fail[cfg.Area]; err != nil {
		return nil, err
	}
	return &contracts.SelfCheckReport{RunID: "run-" + cfg.Area, Area: cfg.Area, OK: true}, nil
}

func jobConfig(areas ...string) *config.Config {
	return &config.Config{
		SelfCheck: config.SelfCheckConfig{
			BacktestDays:  7,
			MAPEThreshold: 0.3,
			SampleSize:    20,
			WebErrorLimit: 0.05,
			RecentDays:    7,
			Schedule:      "0 30 6 * * *",
			Areas:         areas,
		},
		Acceptance: config.AcceptanceConfig{
			BacktestDays:  30,
			MAPEThreshold: 0.7,
			WebErrorLimit: 0.1,
		},
	}
}

func TestSelfCheckJobUsesAcceptanceBounds(t *testing.T) {
	runner := &recordingRunner{}
	job := NewSelfCheckJob(runner, jobConfig("天河区", "海珠区"), logger.Nop())

	require.NoError(t, job.Run(context.Background()))
	require.Len(t, runner.configs, 2)

	for _, cfg := range runner.configs {
		assert.Equal(t, 30, cfg.BacktestDays)
		assert.Equal(t, 0.7, cfg.Threshold)
		assert.Equal(t, 0.1, cfg.WebErrorLimit)
		assert.Equal(t, 20, cfg.SampleSize)
	}
	assert.Equal(t, "天河区", runner.configs[0].Area)
	assert.Equal(t, "海珠区", runner.configs[1].Area)

	require.NotNil(t, job.LastReport("海珠区"))
	assert.Equal(t, "run-海珠区", job.LastReport("海珠区").RunID)
	assert.Nil(t, job.LastReport("白云区"))
}

func TestSelfCheckJobContinuesAfterFailure(t *testing.T) {
	runner := &recordingRunner{fail: map[string]error{"天河区": errors.New("bad config")}}
	job := NewSelfCheckJob(runner, jobConfig("天河区", "海珠区"), logger.Nop())

	err := job.Run(context.Background())
	assert.Error(t, err)
	assert.Len(t, runner.configs, 2)
	assert.NotNil(t, job.LastReport("海珠区"))
}

func TestSelfCheckJobSchedule(t *testing.T) {
	job := NewSelfCheckJob(&recordingRunner{}, jobConfig(), logger.Nop())
	assert.Equal(t, "selfcheck", job.Name())
	assert.Equal(t, "0 30 6 * * *", job.Schedule())

	cfg := jobConfig()
	cfg.SelfCheck.Schedule = ""
	assert.Equal(t, "0 0 7 * * *", NewSelfCheckJob(&recordingRunner{}, cfg, logger.Nop()).Schedule())
}

func TestSelfCheckJobStopsWhenCancelled(t *testing.T) {
	runner := &recordingRunner{}
	job := NewSelfCheckJob(runner, jobConfig("天河区"), logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, job.Run(ctx), context.Canceled)
	assert.Empty(t, runner.configs)
}
