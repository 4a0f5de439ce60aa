package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"messenger/config"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// presenceInstancesKey - zset instance_id -> время последнего heartbeat
	presenceInstancesKey = "presence:instances"
	// presenceSessionsPrefix - хэш user_id -> число сессий на одном инстансе
	presenceSessionsPrefix = "presence:sessions:"
)

var RedisClient *redis.Client

func InitRedis() error {
	if config.AppConfig == nil {
		return fmt.Errorf("AppConfig is not loaded")
	}

	redisConfig := config.AppConfig.Redis
	RedisClient = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", redisConfig.Host, redisConfig.Port),
		Password: redisConfig.Password,
		DB:       redisConfig.DB,
	})

	// Тест соединения
	_, err := RedisClient.Ping(context.Background()).Result()
	if err != nil {
		RedisClient = nil
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return nil
}

func CloseRedis() error {
	if RedisClient != nil {
		return RedisClient.Close()
	}
	return nil
}

// SessionCounter - счетчик сессий пользователя во всем кластере.
// Heartbeat продлевает жизнь своего инстанса, списывает сессии умерших инстансов
// и возвращает пользователей, у которых после этого не осталось ни одной сессии.
type SessionCounter interface {
	Incr(ctx context.Context, userID int64) (int64, error)
	Decr(ctx context.Context, userID int64) (int64, error)
	Heartbeat(ctx context.Context) ([]int64, error)
}

// RedisSessionCounter держит сессии инстанса в отдельном хэше presence:sessions:<instance>.
// Итог по пользователю - сумма по инстансам, чей heartbeat моложе ttl.
type RedisSessionCounter struct {
	client     *redis.Client
	instanceID string
	ttl        time.Duration
}

func NewRedisSessionCounter(client *redis.Client, instanceID string, ttl time.Duration) *RedisSessionCounter {
	return &RedisSessionCounter{client: client, instanceID: instanceID, ttl: ttl}
}

func sessionsKey(instanceID string) string {
	return presenceSessionsPrefix + instanceID
}

func (c *RedisSessionCounter) cutoff() string {
	return strconv.FormatInt(time.Now().Add(-c.ttl).Unix(), 10)
}

// touch отмечает инстанс живым
func (c *RedisSessionCounter) touch(ctx context.Context) error {
	_, err := c.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, presenceInstancesKey, &redis.Z{Score: float64(time.Now().Unix()), Member: c.instanceID})
		// хэш переживает инстанс ненадолго, если его некому убрать
		p.Expire(ctx, sessionsKey(c.instanceID), 3*c.ttl)
		return nil
	})
	return err
}

func (c *RedisSessionCounter) total(ctx context.Context, userID int64) (int64, error) {
	live, err := c.client.ZRangeByScore(ctx, presenceInstancesKey, &redis.ZRangeBy{Min: c.cutoff(), Max: "+inf"}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list live instances: %w", err)
	}
	field := strconv.FormatInt(userID, 10)
	cmds := make([]*redis.StringCmd, 0, len(live))
	_, err = c.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, instanceID := range live {
			cmds = append(cmds, p.HGet(ctx, sessionsKey(instanceID), field))
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("failed to read sessions of user %d: %w", userID, err)
	}
	var sum int64
	for _, cmd := range cmds {
		n, err := cmd.Int64()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read sessions of user %d: %w", userID, err)
		}
		if n > 0 {
			sum += n
		}
	}
	return sum, nil
}

func (c *RedisSessionCounter) Incr(ctx context.Context, userID int64) (int64, error) {
	if err := c.touch(ctx); err != nil {
		return 0, fmt.Errorf("failed to register instance %s: %w", c.instanceID, err)
	}
	err := c.client.HIncrBy(ctx, sessionsKey(c.instanceID), strconv.FormatInt(userID, 10), 1).Err()
	if err != nil {
		return 0, fmt.Errorf("failed to increment sessions of user %d: %w", userID, err)
	}
	return c.total(ctx, userID)
}

func (c *RedisSessionCounter) Decr(ctx context.Context, userID int64) (int64, error) {
	key := sessionsKey(c.instanceID)
	field := strconv.FormatInt(userID, 10)
	n, err := c.client.HIncrBy(ctx, key, field, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to decrement sessions of user %d: %w", userID, err)
	}
	if n <= 0 {
		c.client.HDel(ctx, key, field)
	}
	return c.total(ctx, userID)
}

func (c *RedisSessionCounter) Heartbeat(ctx context.Context) ([]int64, error) {
	if err := c.touch(ctx); err != nil {
		return nil, fmt.Errorf("failed to refresh instance %s: %w", c.instanceID, err)
	}
	dead, err := c.client.ZRangeByScore(ctx, presenceInstancesKey, &redis.ZRangeBy{Min: "-inf", Max: "(" + c.cutoff()}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list expired instances: %w", err)
	}

	var orphaned []int64
	for _, instanceID := range dead {
		// умерший инстанс забирает тот, чей ZREM сработал первым
		removed, err := c.client.ZRem(ctx, presenceInstancesKey, instanceID).Result()
		if err != nil {
			return orphaned, fmt.Errorf("failed to drop instance %s: %w", instanceID, err)
		}
		if removed == 0 {
			continue
		}
		key := sessionsKey(instanceID)
		fields, err := c.client.HKeys(ctx, key).Result()
		if err != nil {
			return orphaned, fmt.Errorf("failed to read sessions of instance %s: %w", instanceID, err)
		}
		c.client.Del(ctx, key)
		log.Printf("INFO: dropped %d users of expired instance %s", len(fields), instanceID)

		for _, field := range fields {
			userID, err := strconv.ParseInt(field, 10, 64)
			if err != nil {
				continue
			}
			n, err := c.total(ctx, userID)
			if err != nil {
				return orphaned, err
			}
			if n == 0 {
				orphaned = append(orphaned, userID)
			}
		}
	}
	return orphaned, nil
}

// Release снимает инстанс при штатной остановке
func (c *RedisSessionCounter) Release(ctx context.Context) error {
	_, err := c.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, presenceInstancesKey, c.instanceID)
		p.Del(ctx, sessionsKey(c.instanceID))
		return nil
	})
	return err
}
