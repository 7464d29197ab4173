package redisx

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/EgorLis/my-media/internal/domain"
)

// снимаем ключ только если он всё ещё наш
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lease — взаимоисключение между репликами: SET NX PX с токеном владельца.
// По истечении TTL аренда освобождается сама, даже если держатель упал.
type Lease struct {
	rdb    *redis.Client
	logger *log.Logger
	ttl    time.Duration
}

func NewLease(rdb *redis.Client, ttl time.Duration, logger *log.Logger) *Lease {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Lease{rdb: rdb, ttl: ttl, logger: logger}
}

// Acquire берёт аренду на key. release идемпотентен.
func (l *Lease) Acquire(ctx context.Context, key string) (release func(), err error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		l.logger.Printf("LEASE %q acquire failed: %v", key, err)
		return nil, err
	}
	if !ok {
		l.logger.Printf("LEASE %q busy", key)
		return nil, domain.ErrLeaseHeld
	}
	l.logger.Printf("LEASE %q acquired (ttl=%s)", key, l.ttl)

	released := false
	return func() {
		if released {
			return
		}
		released = true
		// свой контекст: родительский к этому моменту может быть отменён
		rctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		n, err := releaseScript.Run(rctx, l.rdb, []string{key}, token).Int()
		switch {
		case err != nil:
			l.logger.Printf("LEASE %q release failed: %v", key, err)
		case n == 0:
			l.logger.Printf("LEASE %q already expired", key)
		default:
			l.logger.Printf("LEASE %q released", key)
		}
	}, nil
}
