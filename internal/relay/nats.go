package relay

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"chat_web/internal/service"
)

// Config NATS 轉發設定
type Config struct {
	URL           string
	Subject       string
	Name          string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// NATSRelay 透過 NATS subject 在多個節點之間轉發 Registry 的事件
type NATSRelay struct {
	nc      *nats.Conn
	subject string
	log     *zap.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

var _ service.Relay = (*NATSRelay)(nil)

// Connect 連線到 NATS，斷線時無限重連
func Connect(cfg Config, log *zap.Logger) (*NATSRelay, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats url missing")
	}
	if cfg.Subject == "" {
		cfg.Subject = "dm.fanout"
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}

	log = log.Named("relay")
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}

	log.Info("nats relay connected", zap.String("url", nc.ConnectedUrl()), zap.String("subject", cfg.Subject))
	return &NATSRelay{nc: nc, subject: cfg.Subject, log: log}, nil
}

func (r *NATSRelay) Publish(env service.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return r.nc.Publish(r.subject, data)
}

// Subscribe 只能訂閱一次，無法解析的訊息直接丟棄
func (r *NATSRelay) Subscribe(handler func(service.Envelope)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sub != nil {
		return errors.New("relay already subscribed")
	}
	sub, err := r.nc.Subscribe(r.subject, func(msg *nats.Msg) {
		var env service.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			r.log.Warn("dropping invalid envelope", zap.Error(err))
			return
		}
		handler(env)
	})
	if err != nil {
		return err
	}
	r.sub = sub
	return nil
}

// Close 先送完已發佈的訊息再關閉連線
func (r *NATSRelay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sub != nil {
		_ = r.sub.Drain()
		r.sub = nil
	}
	return r.nc.Drain()
}
