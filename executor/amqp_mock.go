package executor

import (
	"github.com/streadway/amqp"
)

// MockAMQPConnection is a scriptable AMQPConnection for tests, adapted from
// the queue package's original AMQP mock.
type MockAMQPConnection struct {
	MockChannel AMQPChannel
	ChannelErr  error
	CloseErr    error
}

func (m *MockAMQPConnection) Channel() (AMQPChannel, error) {
	if m.ChannelErr != nil {
		return nil, m.ChannelErr
	}
	return m.MockChannel, nil
}

func (m *MockAMQPConnection) Close() error { return m.CloseErr }

// MockAMQPChannel is a scriptable AMQPChannel for tests.
type MockAMQPChannel struct {
	PublishedMessages []amqp.Publishing
	QueueDeclareErr   error
	PublishErr        error
	ConfirmErr        error
	CloseErr          error

	// Confirms, if set, is the channel NotifyPublish returns; tests push
	// amqp.Confirmation values onto it to script EndTransaction outcomes.
	Confirms chan amqp.Confirmation
}

func (m *MockAMQPChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	if m.QueueDeclareErr != nil {
		return amqp.Queue{}, m.QueueDeclareErr
	}
	return amqp.Queue{Name: name}, nil
}

func (m *MockAMQPChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.PublishedMessages = append(m.PublishedMessages, msg)
	if m.Confirms != nil {
		m.Confirms <- amqp.Confirmation{Ack: true}
	}
	return nil
}

func (m *MockAMQPChannel) Confirm(noWait bool) error { return m.ConfirmErr }

func (m *MockAMQPChannel) NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation {
	if m.Confirms == nil {
		m.Confirms = confirm
	}
	return m.Confirms
}

func (m *MockAMQPChannel) Close() error { return m.CloseErr }

// MockAMQPDialer is a scriptable AMQPDialer for tests.
type MockAMQPDialer struct {
	MockConnection AMQPConnection
	DialErr        error
}

func (m *MockAMQPDialer) Dial(url string) (AMQPConnection, error) {
	if m.DialErr != nil {
		return nil, m.DialErr
	}
	return m.MockConnection, nil
}

// NewMockAMQPDialer builds a dialer wired to a fresh mock channel whose
// publishes auto-acknowledge, for the common success-path test case.
func NewMockAMQPDialer() (*MockAMQPDialer, *MockAMQPChannel) {
	ch := &MockAMQPChannel{Confirms: make(chan amqp.Confirmation, 64)}
	conn := &MockAMQPConnection{MockChannel: ch}
	return &MockAMQPDialer{MockConnection: conn}, ch
}
