package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/rl1809/order-service/internal/core/domain"
	"github.com/rl1809/order-service/internal/port"
)

const (
	productKeyPrefix     = "product:"
	reservationKeyPrefix = "reservation:"
	idempotencyKeyTTL    = 24 * time.Hour
	reservationTTL       = 10 * time.Minute
	settleTimeout        = 5 * time.Second
)

// decrementProductsScript checks every key before touching any of them, so a
// missing product or short stock leaves all quantities unchanged. KEYS[1] is
// the reservation marker and ARGV[1] its TTL; product keys and quantities
// start at index 2. On success it marks the reservation and replies "ok"
// followed by name, price and new quantity per product.
var decrementProductsScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return {'cancelled'}
end

for i = 2, #KEYS do
	if redis.call('EXISTS', KEYS[i]) == 0 then
		return {'invalid', KEYS[i]}
	end
end

for i = 2, #KEYS do
	local current = tonumber(redis.call('HGET', KEYS[i], 'quantity'))
	if current == nil or current < tonumber(ARGV[i]) then
		return {'insufficient', KEYS[i], tostring(current)}
	end
end

local result = {'ok'}
for i = 2, #KEYS do
	local left = redis.call('HINCRBY', KEYS[i], 'quantity', -tonumber(ARGV[i]))
	local fields = redis.call('HMGET', KEYS[i], 'name', 'price')
	table.insert(result, fields[1] or '')
	table.insert(result, fields[2] or '0')
	table.insert(result, tostring(left))
end
redis.call('SET', KEYS[1], 'reserved', 'EX', ARGV[1])
return result
`)

// settleReservationScript takes the same keys and arguments as
// decrementProductsScript. A reserved marker gets its stock back; a missing
// marker is fenced so a late decrement with the same token is refused.
var settleReservationScript = redis.NewScript(`
local state = redis.call('GET', KEYS[1])
if state == 'reserved' then
	for i = 2, #KEYS do
		redis.call('HINCRBY', KEYS[i], 'quantity', tonumber(ARGV[i]))
	end
	redis.call('SET', KEYS[1], 'released', 'EX', ARGV[1])
	return 1
end
if not state then
	redis.call('SET', KEYS[1], 'cancelled', 'EX', ARGV[1])
end
return 0
`)

type RedisAdapter struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client, ttl: idempotencyKeyTTL}
}

// WithIdempotencyTTL overrides how long claimed request keys are kept.
func (r *RedisAdapter) WithIdempotencyTTL(ttl time.Duration) *RedisAdapter {
	if ttl > 0 {
		r.ttl = ttl
	}
	return r
}

func (r *RedisAdapter) DecrementAndFetch(ctx context.Context, requests []domain.OrderLineRequest) ([]domain.Product, error) {
	if len(requests) == 0 {
		return nil, domain.ErrNoProducts
	}
	if err := domain.CheckQuantities(requests); err != nil {
		return nil, err
	}
	return r.reserve(ctx, uuid.NewString(), requests)
}

// reserve runs the decrement under a reservation token. When the reply is
// lost the outcome is settled with the same token before returning.
func (r *RedisAdapter) reserve(ctx context.Context, token string, requests []domain.OrderLineRequest) ([]domain.Product, error) {
	ids := domain.RequestedIDs(requests)
	requested := domain.RequestedQuantities(requests)
	keys, args := reservationArgs(token, requests)

	reply, err := decrementProductsScript.Run(ctx, r.client, keys, args...).StringSlice()
	if err != nil {
		var replyErr redis.Error
		if errors.As(err, &replyErr) {
			return nil, fmt.Errorf("decrement script: %w", err)
		}
		return nil, r.settle(ctx, keys, args, err)
	}
	if len(reply) == 0 {
		return nil, fmt.Errorf("decrement script: empty reply")
	}

	switch reply[0] {
	case "ok":
	case "cancelled":
		return nil, fmt.Errorf("decrement script: reservation %s was cancelled", token)
	case "invalid":
		return nil, fmt.Errorf("%w: %s does not exist", domain.ErrInvalidProducts, trimProductKey(reply, 1))
	case "insufficient":
		available := ""
		if len(reply) > 2 {
			available = reply[2]
		}
		id := trimProductKey(reply, 1)
		return nil, fmt.Errorf("%w: product %s has %s, requested %d", domain.ErrInsufficientQuantity, id, available, requested[id])
	default:
		return nil, fmt.Errorf("decrement script: unexpected reply %q", reply[0])
	}

	if len(reply) != 1+3*len(ids) {
		return nil, fmt.Errorf("decrement script: got %d fields for %d products", len(reply), len(ids))
	}

	now := time.Now().UTC()
	products := make([]domain.Product, 0, len(ids))
	for i, id := range ids {
		fields := reply[1+3*i : 4+3*i]
		p, err := parseProduct(id, fields[0], fields[1], fields[2])
		if err != nil {
			return nil, err
		}
		p.UpdatedAt = now
		products = append(products, p)
	}

	return products, nil
}

// settle resolves a decrement whose reply never arrived. It runs detached
// from ctx, which may be the reason the reply was lost.
func (r *RedisAdapter) settle(ctx context.Context, keys []string, args []any, cause error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	if err := settleReservationScript.Run(ctx, r.client, keys, args...).Err(); err != nil {
		return fmt.Errorf("%w: decrement script: %w (settle: %v)", port.ErrReservationUnknown, cause, err)
	}
	return fmt.Errorf("decrement script: %w", cause)
}

func reservationArgs(token string, requests []domain.OrderLineRequest) ([]string, []any) {
	ids := domain.RequestedIDs(requests)
	requested := domain.RequestedQuantities(requests)

	keys := make([]string, 0, len(ids)+1)
	args := make([]any, 0, len(ids)+1)
	keys = append(keys, reservationKeyPrefix+token)
	args = append(args, int(reservationTTL/time.Second))
	for _, id := range ids {
		keys = append(keys, productKeyPrefix+id)
		args = append(args, requested[id])
	}
	return keys, args
}

// Release restores stock taken by DecrementAndFetch.
func (r *RedisAdapter) Release(ctx context.Context, requests []domain.OrderLineRequest) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for id, quantity := range domain.RequestedQuantities(requests) {
			pipe.HIncrBy(ctx, productKeyPrefix+id, "quantity", int64(quantity))
		}
		return nil
	})
	return err
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, 1, r.ttl).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ClearIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisAdapter) SaveProduct(ctx context.Context, p domain.Product) error {
	return r.client.HSet(ctx, productKeyPrefix+p.ID,
		"name", p.Name,
		"price", p.Price.String(),
		"quantity", p.Quantity,
	).Err()
}

func (r *RedisAdapter) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	fields, err := r.client.HGetAll(ctx, productKeyPrefix+id).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}

	p, err := parseProduct(id, fields["name"], fields["price"], fields["quantity"])
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func parseProduct(id, name, price, quantity string) (domain.Product, error) {
	parsedPrice, err := decimal.NewFromString(price)
	if err != nil {
		return domain.Product{}, fmt.Errorf("parse price of %s: %w", id, err)
	}
	parsedQuantity, err := strconv.Atoi(quantity)
	if err != nil {
		return domain.Product{}, fmt.Errorf("parse quantity of %s: %w", id, err)
	}
	return domain.Product{ID: id, Name: name, Price: parsedPrice, Quantity: parsedQuantity}, nil
}

func trimProductKey(reply []string, i int) string {
	if len(reply) <= i {
		return ""
	}
	return strings.TrimPrefix(reply[i], productKeyPrefix)
}
