package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisRelay 多实例部署时通过 Redis pub/sub 转发变更
// 本实例的变更先推给本地连接，再发布到频道；订阅到的其他实例变更只推给本地连接。
type RedisRelay struct {
	rdb     *redis.Client
	channel string
	local   Notifier
	origin  string
	logger  *zap.Logger

	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewRedisRelay 创建 Redis 转发
func NewRedisRelay(rdb *redis.Client, channel string, local Notifier, logger *zap.Logger) *RedisRelay {
	return &RedisRelay{
		rdb:     rdb,
		channel: channel,
		local:   local,
		origin:  uuid.New().String(),
		logger:  logger,

		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}
}

func (r *RedisRelay) Notify(ctx context.Context, change Change) {
	r.local.Notify(ctx, change)

	change.Origin = r.origin
	payload, err := json.Marshal(change)
	if err != nil {
		return
	}
	if err := r.rdb.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.Warn("publish change failed", zap.String("channel", r.channel), zap.Error(err))
	}
}

// Run 订阅频道直到 ctx 结束
// Redis 不可用或连接断开时按指数退避重新订阅，只记录日志不返回错误，广播失败不影响 API。
func (r *RedisRelay) Run(ctx context.Context) error {
	backoff := r.minBackoff
	for {
		subscribed, err := r.subscribe(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if subscribed {
			backoff = r.minBackoff
		}
		r.logger.Warn("change relay disconnected, retrying",
			zap.String("channel", r.channel),
			zap.Duration("retry_in", backoff),
			zap.Error(err))

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		if backoff *= 2; backoff > r.maxBackoff {
			backoff = r.maxBackoff
		}
	}
}

// subscribe 单次订阅，subscribed 表示订阅曾经成功
func (r *RedisRelay) subscribe(ctx context.Context) (subscribed bool, err error) {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return false, fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Info("change relay subscribed", zap.String("channel", r.channel))

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return true, fmt.Errorf("subscription %s closed", r.channel)
			}
			r.handle(ctx, msg.Payload)
		}
	}
}

func (r *RedisRelay) handle(ctx context.Context, payload string) {
	var change Change
	if err := json.Unmarshal([]byte(payload), &change); err != nil {
		r.logger.Warn("invalid change payload", zap.Error(err))
		return
	}
	if change.Origin == r.origin {
		return
	}
	change.Origin = ""
	r.local.Notify(ctx, change)
}
