package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syslogcore/engine/action"
	"github.com/syslogcore/engine/record"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	mod := NewRecordingModule()
	reg.Register("audit-sink", mod)

	got, ok := reg.Get("audit-sink")
	require.True(t, ok)
	assert.Same(t, action.Module(mod), got)

	_, ok = reg.Get("missing")
	assert.False(t, ok)
	assert.ElementsMatch(t, []string{"audit-sink"}, reg.Names())
}

func TestRecordingModuleTracksCalls(t *testing.T) {
	mod := NewRecordingModule()
	ctx := context.Background()

	res, err := mod.BeginTransaction(ctx)
	require.NoError(t, err)
	assert.Equal(t, action.ResultOK, res)

	rec := record.New([]byte("hello"), record.Priority{}, record.Origin{}, record.NoDelay)
	_, err = mod.DoAction(ctx, nil, rec)
	require.NoError(t, err)

	_, err = mod.EndTransaction(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"hello"}, mod.Records())
	assert.Equal(t, 1, mod.Begins)
	assert.Equal(t, 1, mod.Ends)
}

func TestAMQPModuleHappyPathCommitsOnAck(t *testing.T) {
	dialer, _ := NewMockAMQPDialer()
	mod := NewAMQPModuleWithDialer(AMQPConfig{URL: "amqp://test", QueueName: "q"}, dialer)
	ctx := context.Background()

	res, err := mod.BeginTransaction(ctx)
	require.NoError(t, err)
	require.Equal(t, action.ResultOK, res)

	rec := record.New([]byte("evt"), record.Priority{}, record.Origin{}, record.NoDelay)
	res, err = mod.DoAction(ctx, nil, rec)
	require.NoError(t, err)
	require.Equal(t, action.ResultOK, res)

	res, err = mod.EndTransaction(ctx)
	require.NoError(t, err)
	assert.Equal(t, action.ResultOK, res)
}

func TestAMQPModuleSuspendsOnPublishError(t *testing.T) {
	ch := &MockAMQPChannel{PublishErr: errors.New("broker unavailable")}
	conn := &MockAMQPConnection{MockChannel: ch}
	dialer := &MockAMQPDialer{MockConnection: conn}
	mod := NewAMQPModuleWithDialer(AMQPConfig{URL: "amqp://test", QueueName: "q"}, dialer)
	ctx := context.Background()

	_, err := mod.BeginTransaction(ctx)
	require.NoError(t, err)

	rec := record.New([]byte("evt"), record.Priority{}, record.Origin{}, record.NoDelay)
	res, err := mod.DoAction(ctx, nil, rec)
	require.NoError(t, err)
	assert.Equal(t, action.ResultSuspended, res)
}
