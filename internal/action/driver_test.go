package action

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/tipctl/internal/faults"
	"github.com/danmuck/tipctl/internal/instrument"
	"github.com/danmuck/tipctl/internal/protocol"
	"github.com/danmuck/tipctl/internal/protocol/schema"
	"github.com/danmuck/tipctl/internal/signals"
	"github.com/danmuck/tipctl/internal/testutil/fakeinstrument"
	"github.com/danmuck/tipctl/internal/testutil/testlog"
)

func newDriver(t *testing.T, names []string, opts ...Option) (*Driver, *fakeinstrument.Instrument) {
	t.Helper()
	inst := fakeinstrument.NewInstrument(t, names)
	cfg := instrument.DefaultConfig()
	cfg.Address = inst.Addr()
	c, err := instrument.Connect(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	opts = append([]Option{WithPollInterval(5 * time.Millisecond)}, opts...)
	return NewDriver(c, opts...), inst
}

func TestExecuteChainStopsAtFirstFailure(t *testing.T) {
	testlog.Start(t)
	d, inst := newDriver(t, []string{"Bias (V)", "Current (A)"})

	chain := Chain{
		SetBias{Voltage: 0.5},
		ReadSignal{Index: signals.MustIndex(99)},
		SetZController{On: true},
	}
	res, err := d.ExecuteChain(context.Background(), chain)

	var failed *ActionFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, 1, failed.Index)
	assert.Equal(t, "read_signal", failed.Action)
	assert.True(t, errors.Is(err, protocol.ErrRemote))

	require.Len(t, res.Results, 2)
	assert.True(t, res.Results[0].OK())
	assert.Equal(t, "set_bias", res.Results[0].Action)
	assert.False(t, res.Results[1].OK())
	assert.NotEmpty(t, res.RunID)

	assert.Equal(t, 0, inst.Count(schema.ZCtrlOnOffSet), "third action must never run")
	assert.Equal(t, float32(0.5), inst.Bias())
}

func TestExecuteChainSuccess(t *testing.T) {
	testlog.Start(t)
	d, inst := newDriver(t, []string{"Bias (V)", "Current (A)", "Z (m)"})
	inst.SetValue(1, 2e-10)
	inst.SetValue(2, 5e-9)

	res, err := d.ExecuteChain(context.Background(), Chain{
		SetZController{On: true},
		ReadSignals{Indexes: []signals.Index{2, 1}},
		MovePiezoRelative{DX: 1e-9, DY: 2e-9, Wait: true},
		StartStream{Channels: []int{0, 3}, Oversampling: 10},
		Wait{Duration: time.Millisecond},
		StopStream{},
	})
	require.NoError(t, err)
	require.Len(t, res.Results, 6)
	assert.Equal(t, []float32{5e-9, 2e-10}, res.Results[1].Value)
	assert.True(t, inst.ZControllerOn())
	x, y := inst.Position()
	assert.Equal(t, 1e-9, x)
	assert.Equal(t, 2e-9, y)
	assert.Equal(t, []int64{0, 3}, inst.LogChannels())
	assert.False(t, inst.Logging())
}

func TestApproachPollsUntilDone(t *testing.T) {
	testlog.Start(t)
	d, inst := newDriver(t, []string{"Bias (V)"})
	inst.SetApproachPolls(3)

	res := d.Execute(context.Background(), Approach{Wait: true, Timeout: 2 * time.Second})
	require.NoError(t, res.Err)
	assert.Equal(t, 4, inst.Count(schema.AutoApproachOnOffGet))
	assert.Equal(t, 1, inst.Count(schema.AutoApproachOnOffSet), "approach request is sent once")
}

func TestApproachTimeout(t *testing.T) {
	testlog.Start(t)
	d, inst := newDriver(t, []string{"Bias (V)"})
	inst.SetApproachPolls(1 << 20)

	res := d.Execute(context.Background(), Approach{Wait: true, Timeout: 40 * time.Millisecond})
	require.Error(t, res.Err)
	assert.True(t, faults.IsTimeout(res.Err))
	assert.False(t, faults.IsConnection(res.Err))
	assert.Equal(t, 1, inst.Count(schema.AutoApproachOnOffSet))
}

func TestWaitingActionRequiresTimeout(t *testing.T) {
	testlog.Start(t)
	d, _ := newDriver(t, []string{"Bias (V)"})
	res := d.Execute(context.Background(), MoveMotor{Direction: instrument.MotorZPlus, Steps: 10, Wait: true})
	assert.ErrorIs(t, res.Err, faults.ErrInvalidConfig)
}

func TestMotorAndWithdraw(t *testing.T) {
	testlog.Start(t)
	d, inst := newDriver(t, []string{"Bias (V)"})
	inst.SetMotorPolls(2)

	res := d.Execute(context.Background(), MoveMotor{Direction: instrument.MotorZMinus, Steps: 5, Wait: true, Timeout: time.Second})
	require.NoError(t, res.Err)
	assert.Equal(t, 3, inst.Count(schema.MotorMoveStatusGet))

	require.NoError(t, d.Execute(context.Background(), SetZController{On: true}).Err)
	require.NoError(t, d.Execute(context.Background(), Withdraw{Wait: true, Timeout: time.Second}).Err)
	assert.False(t, inst.ZControllerOn())
}

func TestActionLogAppendsAndReadsBack(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "actions.jsonl")
	w, err := OpenLog(path)
	require.NoError(t, err)
	d, _ := newDriver(t, []string{"Bias (V)"}, WithLog(w))

	_, err = d.ExecuteChain(context.Background(), Chain{
		SetBias{Voltage: 1},
		BiasPulse{Voltage: 3, Width: 50 * time.Millisecond, Wait: true},
		ReadSignal{Index: 7},
		SetBias{Voltage: 2},
	})
	require.Error(t, err)
	require.NoError(t, w.Close())

	entries, err := ReadLog(path)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "set_bias", entries[0].Action)
	assert.Equal(t, OutcomeOK, entries[1].Outcome)
	assert.Equal(t, float64(50), entries[1].Params["width_ms"])
	assert.Equal(t, OutcomeFailed, entries[2].Outcome)
	assert.NotEmpty(t, entries[2].Error)
	for i, e := range entries {
		assert.Equal(t, entries[0].RunID, e.RunID)
		assert.Equal(t, i, e.Seq)
	}
}

func TestReadLogToleratesTornTail(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "actions.jsonl")
	body := `{"run_id":"r","seq":0,"action":"set_bias","outcome":"ok"}` + "\n" + `{"run_id":"r","seq":1,"act`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	entries, err := ReadLog(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	corrupt := "not json\n" + `{"run_id":"r","seq":0,"action":"wait","outcome":"ok"}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(corrupt), 0o644))
	entries, err = ReadLog(path)
	assert.ErrorIs(t, err, ErrCorruptLog)
	assert.Empty(t, entries)
}
