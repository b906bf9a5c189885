package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"github.com/syslogcore/engine/action"
	"github.com/syslogcore/engine/record"
)

// AMQPConfig configures an AMQPModule.
type AMQPConfig struct {
	URL           string
	QueueName     string
	Exchange      string
	ConfirmWindow time.Duration // how long EndTransaction waits for confirms
}

// AMQPModule is a reference action.Module demonstrating the transactional
// contract (spec.md §6.1) over a real broker: it begins a publisher-confirm
// "transaction" per batch, publishes one message per DoAction call, and maps
// the confirm/nack outcome to OK/SUSPENDED in EndTransaction. Grounded on
// queue/rabbit.go's connect/channel/declare/publish sequence, generalized
// from a fire-and-forget publish into a confirm-mode transaction.
type AMQPModule struct {
	cfg    AMQPConfig
	dialer AMQPDialer

	mu      sync.Mutex
	conn    AMQPConnection
	ch      AMQPChannel
	confirm chan amqp.Confirmation
	pending int
}

// NewAMQPModule constructs an AMQPModule using the real broker dialer.
func NewAMQPModule(cfg AMQPConfig) *AMQPModule {
	return NewAMQPModuleWithDialer(cfg, &RealAMQPDialer{})
}

// NewAMQPModuleWithDialer constructs an AMQPModule with an injected dialer,
// for testing without a real broker.
func NewAMQPModuleWithDialer(cfg AMQPConfig, dialer AMQPDialer) *AMQPModule {
	if cfg.ConfirmWindow <= 0 {
		cfg.ConfirmWindow = 5 * time.Second
	}
	return &AMQPModule{cfg: cfg, dialer: dialer}
}

func (m *AMQPModule) connectLocked() error {
	if m.ch != nil {
		return nil
	}
	conn, err := m.dialer.Dial(m.cfg.URL)
	if err != nil {
		return fmt.Errorf("amqp module: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("amqp module: channel: %w", err)
	}
	if _, err := ch.QueueDeclare(m.cfg.QueueName, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("amqp module: queue declare: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("amqp module: confirm mode: %w", err)
	}
	m.conn = conn
	m.ch = ch
	return nil
}

// BeginTransaction opens (or reuses) a confirmed channel and resets the
// per-batch publish-confirm tracking.
func (m *AMQPModule) BeginTransaction(ctx context.Context) (action.ModuleResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.connectLocked(); err != nil {
		return action.ResultSuspended, nil
	}
	m.confirm = m.ch.NotifyPublish(make(chan amqp.Confirmation, 64))
	m.pending = 0
	return action.ResultOK, nil
}

// DoAction publishes one record to the configured queue.
func (m *AMQPModule) DoAction(ctx context.Context, params []string, rec *record.Record) (action.ModuleResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ch == nil {
		return action.ResultSuspended, nil
	}
	body := []byte(rec.Raw)
	err := m.ch.Publish(m.cfg.Exchange, m.cfg.QueueName, false, false, amqp.Publishing{
		ContentType: "application/octet-stream",
		Body:        body,
		Timestamp:   time.Now(),
	})
	if err != nil {
		m.teardownLocked()
		return action.ResultSuspended, nil
	}
	m.pending++
	return action.ResultOK, nil
}

// EndTransaction waits for every publish in this batch to be confirmed. Any
// nack, or a window timeout, reports SUSPENDED so the action engine retries.
func (m *AMQPModule) EndTransaction(ctx context.Context) (action.ModuleResult, error) {
	m.mu.Lock()
	confirm := m.confirm
	pending := m.pending
	window := m.cfg.ConfirmWindow
	m.mu.Unlock()

	if confirm == nil {
		return action.ResultOK, nil
	}

	deadline := time.After(window)
	for i := 0; i < pending; i++ {
		select {
		case c, ok := <-confirm:
			if !ok || !c.Ack {
				m.mu.Lock()
				m.teardownLocked()
				m.mu.Unlock()
				return action.ResultSuspended, nil
			}
		case <-ctx.Done():
			return action.ResultSuspended, nil
		case <-deadline:
			m.mu.Lock()
			m.teardownLocked()
			m.mu.Unlock()
			return action.ResultSuspended, nil
		}
	}
	return action.ResultOK, nil
}

// TryResume reconnects to the broker.
func (m *AMQPModule) TryResume(ctx context.Context) (action.ModuleResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.connectLocked(); err != nil {
		return action.ResultSuspended, nil
	}
	return action.ResultOK, nil
}

// HUP tears down the channel and connection so the next transaction
// reconnects, picking up any broker-side configuration change.
func (m *AMQPModule) HUP(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
	return nil
}

func (m *AMQPModule) teardownLocked() {
	if m.ch != nil {
		m.ch.Close()
		m.ch = nil
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.confirm = nil
	m.pending = 0
}
