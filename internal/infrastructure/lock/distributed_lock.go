package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁（租约）
// ============================================================================
//
// 加锁：SET key token NX PX ttl
//   - NX 保证同一时刻只有一个持有者
//   - ttl 保证持有者崩溃后租约自动过期
//   - token 标识持有者，释放时校验
//
// 释放：Lua 脚本里比较 token 后再 DEL，检查和删除是原子的。
//
// 租约只负责把并发请求挡在门外，真正的"只扣一次"由数据库唯一键兜底，
// 所以 Redis 不可用时调用方可以降级为只依赖数据库约束。
// ============================================================================

var ErrLockFailed = errors.New("获取分布式锁失败")

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// DistributedLock 分布式锁
type DistributedLock struct {
	client     redis.Cmdable
	key        string
	token      string
	expiration time.Duration
}

// NewDistributedLock 创建分布式锁
func NewDistributedLock(client redis.Cmdable, key, token string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		token:      token,
		expiration: expiration,
	}
}

func (l *DistributedLock) Key() string {
	return l.key
}

// TryLock 非阻塞获取锁
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.token, l.expiration).Result()
}

// Lock 带重试地获取锁
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		ok, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁，只删除自己持有的租约
func (l *DistributedLock) Unlock(ctx context.Context) error {
	return unlockScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}

// NewUnlockLock 页面解锁租约，按 (集合, 页码, 浏览者) 维度
// 同一个浏览者对同一页的并发请求只有一个能进入扣费流程
func NewUnlockLock(client redis.Cmdable, collectionKey string, page int, viewerID, token string, ttl time.Duration) *DistributedLock {
	key := fmt.Sprintf("unlock:lock:%s:%d:%s", collectionKey, page, viewerID)
	return NewDistributedLock(client, key, token, ttl)
}

// NewPayoutLock 提现租约，按账户维度
func NewPayoutLock(client redis.Cmdable, accountID, token string) *DistributedLock {
	key := fmt.Sprintf("payout:lock:account:%s", accountID)
	return NewDistributedLock(client, key, token, 60*time.Second)
}
