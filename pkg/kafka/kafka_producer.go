package kafka

import (
	"context"
	"errors"
	"log"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"tradewire/internal/consts"
)

// Kafka 生产者服务
// 定义接口，方便测试和替换
type ProducerService interface {
	Produce(ctx context.Context, topic string, key []byte, msg interface{}) error
	Close()
}

type kafkaProducer struct {
	eventWriter  *kafka.Writer // 指令生命周期事件
	resultWriter *kafka.Writer // 执行结果（测试/回灌用）
}

func NewKafkaProducer(brokerURL string) ProducerService {
	eventWriter := &kafka.Writer{
		Addr:     kafka.TCP(brokerURL),
		Topic:    consts.TopicCommandEvents,
		Balancer: &kafka.LeastBytes{}, // 保证写入负载均衡
	}
	resultWriter := &kafka.Writer{
		Addr:     kafka.TCP(brokerURL),
		Topic:    consts.TopicCommandResults,
		Balancer: &kafka.LeastBytes{},
	}

	return &kafkaProducer{
		eventWriter:  eventWriter,
		resultWriter: resultWriter,
	}
}

// Produce 通用方法：序列化消息并写入 Kafka
func (p *kafkaProducer) Produce(ctx context.Context, topic string, key []byte, msg interface{}) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	var writer *kafka.Writer
	switch topic {
	case consts.TopicCommandEvents:
		writer = p.eventWriter
	case consts.TopicCommandResults:
		writer = p.resultWriter
	default:
		return errors.New("invalid kafka topic")
	}

	// 使用指令ID作为 Key，确保同一指令的事件进入同一个 Partition (有序性)
	return writer.WriteMessages(ctx, kafka.Message{
		Key:   key,
		Value: raw,
	})
}

func (p *kafkaProducer) Close() {
	if err := p.eventWriter.Close(); err != nil {
		log.Printf("Error closing event writer: %v", err)
	}
	if err := p.resultWriter.Close(); err != nil {
		log.Printf("Error closing result writer: %v", err)
	}
}
