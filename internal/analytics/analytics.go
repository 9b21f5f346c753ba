package analytics

import (
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/streadway/amqp"
)

// Emitter 上报埋点事件，调用永不失败，失败只记录日志。
type Emitter interface {
	Emit(event string, props map[string]any)
}

// LogEmitter 仅打印事件，适合开发阶段使用。
type LogEmitter struct {
	logger *log.Logger
}

// NewLogEmitter 创建日志上报器，未提供 logger 时默认输出到标准输出。
func NewLogEmitter(logger *log.Logger) *LogEmitter {
	if logger == nil {
		logger = log.New(os.Stdout, "[analytics] ", log.LstdFlags)
	}
	return &LogEmitter{logger: logger}
}

// Emit 打印事件名与属性。
func (e *LogEmitter) Emit(event string, props map[string]any) {
	payload, err := json.Marshal(props)
	if err != nil {
		e.logger.Printf("event %s: marshal props: %v", event, err)
		return
	}
	e.logger.Printf("event %s %s", event, payload)
}

// AMQPEmitter 将事件发布到消息交换机，按事件名路由。
type AMQPEmitter struct {
	conn     *amqp.Connection
	exchange string
	logger   *log.Logger
}

// NewAMQPEmitter 连接到 RabbitMQ 并声明交换机。
func NewAMQPEmitter(url, exchange string, logger *log.Logger) (*AMQPEmitter, error) {
	if logger == nil {
		logger = log.New(os.Stdout, "[analytics] ", log.LstdFlags)
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}

	return &AMQPEmitter{conn: conn, exchange: exchange, logger: logger}, nil
}

// Emit 以事件名为路由键发布消息，任何失败只记录日志。
func (e *AMQPEmitter) Emit(event string, props map[string]any) {
	body, err := json.Marshal(map[string]any{
		"event":     event,
		"props":     props,
		"timestamp": time.Now().UTC(),
	})
	if err != nil {
		e.logger.Printf("event %s: marshal: %v", event, err)
		return
	}

	ch, err := e.conn.Channel()
	if err != nil {
		e.logger.Printf("event %s: open channel: %v", event, err)
		return
	}
	defer ch.Close()

	if err := ch.Publish(e.exchange, event, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	}); err != nil {
		e.logger.Printf("event %s: publish: %v", event, err)
	}
}

// Close 关闭底层连接。
func (e *AMQPEmitter) Close() error {
	return e.conn.Close()
}
