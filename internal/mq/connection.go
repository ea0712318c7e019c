package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	// ErrNoChannel — канал публикации недоступен (идёт переподключение).
	ErrNoChannel = errors.New("no amqp channel available")

	// ErrConnectionClosed — соединение закрыто через Close.
	ErrConnectionClosed = errors.New("amqp connection closed")
)

// Пределы задержки между попытками переподключения.
const (
	redialMinDelay = time.Second
	redialMaxDelay = 30 * time.Second
)

// Connection держит соединение с брокером и общий канал публикации.
//
// Разрыв соединения обнаруживает фоновый supervise и восстанавливает его
// с экспоненциальной задержкой. Пока соединения нет, Ready возвращает
// незакрытый канал, а WithChannel отвечает ErrNoChannel.
type Connection struct {
	url    string
	logger *slog.Logger

	mu    sync.RWMutex
	amqp  *amqp.Connection
	pub   *amqp.Channel
	ready chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// NewConnection подключается к брокеру. Первая попытка синхронная:
// неверный URL или недоступный брокер сразу возвращают ошибку.
func NewConnection(url string, logger *slog.Logger) (*Connection, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Connection{
		url:    url,
		logger: logger.With("component", "amqp"),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}

	conn, pub, err := dial(url)
	if err != nil {
		return nil, err
	}
	c.attach(conn, pub)

	go c.supervise()
	return c, nil
}

func dial(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	return conn, ch, nil
}

// attach делает соединение текущим и будит ожидающих Ready.
// После Close новое соединение сразу закрывается.
func (c *Connection) attach(conn *amqp.Connection, pub *amqp.Channel) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		_ = conn.Close()
		return false
	default:
	}

	c.amqp, c.pub = conn, pub
	close(c.ready)
	c.logger.Info("connected to RabbitMQ")
	return true
}

// detach забывает разорванное соединение; Ready снова блокирует.
func (c *Connection) detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.amqp, c.pub = nil, nil
	c.ready = make(chan struct{})
}

func (c *Connection) supervise() {
	for {
		c.mu.RLock()
		conn := c.amqp
		c.mu.RUnlock()
		if conn == nil {
			// Close успел сбросить соединение
			return
		}

		lost := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-c.done:
			return
		case amqpErr := <-lost:
			select {
			case <-c.done:
				return
			default:
			}
			c.logger.Warn("connection lost", "error", amqpErr)
		}

		c.detach()
		if !c.redial() {
			return
		}
	}
}

// redial повторяет dial до успеха или Close.
func (c *Connection) redial() bool {
	delay := redialMinDelay
	for {
		select {
		case <-c.done:
			return false
		case <-time.After(delay):
		}

		conn, pub, err := dial(c.url)
		if err != nil {
			c.logger.Warn("reconnect failed", "delay", delay, "error", err)
			delay = min(delay*2, redialMaxDelay)
			continue
		}
		return c.attach(conn, pub)
	}
}

// Ready возвращает канал, который закрыт, пока соединение установлено.
func (c *Connection) Ready() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// Done закрывается вызовом Close.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Connected сообщает, есть ли живое соединение.
func (c *Connection) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.amqp != nil && !c.amqp.IsClosed()
}

// OpenChannel открывает отдельный канал (у каждого consumer свой prefetch).
func (c *Connection) OpenChannel() (*amqp.Channel, error) {
	select {
	case <-c.done:
		return nil, ErrConnectionClosed
	default:
	}

	c.mu.RLock()
	conn := c.amqp
	c.mu.RUnlock()
	if conn == nil || conn.IsClosed() {
		return nil, ErrNoChannel
	}
	return conn.Channel()
}

// WithChannel вызывает fn с каналом публикации.
func (c *Connection) WithChannel(ctx context.Context, fn func(ch *amqp.Channel) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	c.mu.RLock()
	ch := c.pub
	c.mu.RUnlock()
	if ch == nil || ch.IsClosed() {
		return ErrNoChannel
	}
	return fn(ch)
}

// Close закрывает соединение и останавливает переподключение.
// Повторный вызов ничего не делает.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		conn := c.amqp
		c.amqp, c.pub = nil, nil
		c.mu.Unlock()

		// закрытие соединения закрывает и его каналы
		if conn != nil {
			if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, amqp.ErrClosed) {
				err = fmt.Errorf("close connection: %w", cerr)
			}
		}
		c.logger.Info("connection closed")
	})
	return err
}
