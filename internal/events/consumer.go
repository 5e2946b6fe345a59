package events

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer подписывается на ленту событий документов. Каждый экземпляр
// получает собственную эксклюзивную очередь: доставка at-most-once,
// без повторов; события, пришедшие при выключенном потребителе, теряются.
type Consumer struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	deliveries <-chan amqp.Delivery
}

// NewConsumer подключается к брокеру, привязывает эксклюзивную очередь
// к обменнику ленты и начинает потребление с автоподтверждением.
func NewConsumer(uri, consumerTag string) (*Consumer, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(Exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, "", Exchange, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("bind queue: %w", err)
	}

	deliveries, err := ch.Consume(q.Name, consumerTag, true, true, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("consume: %w", err)
	}

	return &Consumer{conn: conn, ch: ch, deliveries: deliveries}, nil
}

// Deliveries возвращает канал входящих событий. Канал закрывается
// при закрытии подписки.
func (c *Consumer) Deliveries() <-chan amqp.Delivery {
	return c.deliveries
}

// Close закрывает подписку и соединение с брокером.
func (c *Consumer) Close() {
	if c == nil {
		return
	}
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}
