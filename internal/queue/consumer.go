package queue

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nsqio/go-nsq"
)

// ConsumerOptions configures one stage consumer.
type ConsumerOptions struct {
	Topic       string
	Channel     string
	Concurrency int
	MaxAttempts int
	// MsgTimeout must cover the slowest handler run, including index
	// readiness polling in the train stage.
	MsgTimeout time.Duration
}

func consumerConfig(opts ConsumerOptions) (*nsq.Config, error) {
	cfg := nsq.NewConfig()
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	cfg.MaxInFlight = opts.Concurrency
	if opts.MaxAttempts > 0 {
		cfg.MaxAttempts = uint16(opts.MaxAttempts)
	}
	if opts.MsgTimeout > 0 {
		cfg.MsgTimeout = opts.MsgTimeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("nsq config for %s: %w", opts.Topic, err)
	}
	return cfg, nil
}

// StartConsumer subscribes handler to opts.Topic with opts.Concurrency
// parallel handlers and connects through lookupd.
func StartConsumer(opts ConsumerOptions, lookupd string, handler nsq.Handler) (*nsq.Consumer, error) {
	cfg, err := consumerConfig(opts)
	if err != nil {
		return nil, err
	}

	c, err := nsq.NewConsumer(opts.Topic, opts.Channel, cfg)
	if err != nil {
		return nil, fmt.Errorf("nsq consumer for %s: %w", opts.Topic, err)
	}
	c.SetLogger(slogAdapter{prefix: "nsq consumer " + opts.Topic}, nsq.LogLevelWarning)
	c.AddConcurrentHandlers(handler, max(opts.Concurrency, 1))

	if err := c.ConnectToNSQLookupd(lookupd); err != nil {
		c.Stop()
		return nil, fmt.Errorf("connect %s consumer to lookupd: %w", opts.Topic, err)
	}
	slog.Info("nsq consumer connected", "topic", opts.Topic, "channel", opts.Channel, "concurrency", opts.Concurrency)
	return c, nil
}

// slogAdapter routes go-nsq's internal logging into slog.
type slogAdapter struct {
	prefix string
}

func (a slogAdapter) Output(_ int, s string) error {
	msg := strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(msg, "ERR"):
		slog.Error(a.prefix, "msg", msg)
	case strings.HasPrefix(msg, "WRN"):
		slog.Warn(a.prefix, "msg", msg)
	default:
		slog.Debug(a.prefix, "msg", msg)
	}
	return nil
}
