// Package queue wraps NSQ for the stage topics: a producer that stage
// workers and the submission API publish through, consumers that run the
// stage handlers, and topic pre-creation.
package queue

import (
	"fmt"

	"github.com/nsqio/go-nsq"
)

type Producer struct {
	p *nsq.Producer
}

func NewProducer(addr string) (*Producer, error) {
	p, err := nsq.NewProducer(addr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("nsq producer: %w", err)
	}
	p.SetLogger(slogAdapter{prefix: "nsq producer"}, nsq.LogLevelWarning)
	return &Producer{p: p}, nil
}

func (p *Producer) Publish(topic string, body []byte) error {
	if err := p.p.Publish(topic, body); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (p *Producer) Ping() error { return p.p.Ping() }

func (p *Producer) Stop() { p.p.Stop() }
