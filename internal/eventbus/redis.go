package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcptrust/execgate/internal/observability/logging"
	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the remote publisher.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password,omitempty"`
	DB       int           `yaml:"db"`
	Channel  string        `yaml:"channel"`
	Buffer   int           `yaml:"buffer"`
	Timeout  time.Duration `yaml:"timeout"`
}

// RedisPublisher forwards events to a Redis PUBLISH channel from a
// background goroutine. Publish only enqueues; when the buffer is full the
// event is dropped and counted.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
	timeout time.Duration
	log     logging.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan Event
	dropped atomic.Int64
	wg      sync.WaitGroup
}

// NewRedisPublisher starts the forwarding goroutine. Close stops it.
func NewRedisPublisher(client redis.UniversalClient, cfg RedisConfig, log logging.Logger) *RedisPublisher {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.Channel == "" {
		cfg.Channel = "execgate.events"
	}
	p := &RedisPublisher{
		client:  client,
		channel: cfg.Channel,
		timeout: cfg.Timeout,
		log:     logging.OrNop(log),
		queue:   make(chan Event, cfg.Buffer),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// DialRedis builds a client from config.
func DialRedis(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func (p *RedisPublisher) Publish(ctx context.Context, evt Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.dropped.Add(1)
		return nil
	}
	select {
	case p.queue <- evt:
	default:
		p.dropped.Add(1)
	}
	return nil
}

// Dropped reports how many events were discarded because the buffer was full.
func (p *RedisPublisher) Dropped() int64 {
	return p.dropped.Load()
}

func (p *RedisPublisher) run() {
	defer p.wg.Done()
	for evt := range p.queue {
		data, err := json.Marshal(evt)
		if err != nil {
			p.log.Warn(component, "encode event failed", "type", evt.Type, "error", err.Error())
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
			p.log.Warn(component, "redis publish failed", "type", evt.Type, "channel", p.channel, "error", err.Error())
		}
		cancel()
	}
}

// Close drains the queue and stops the forwarder. It does not close the
// Redis client.
func (p *RedisPublisher) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}
