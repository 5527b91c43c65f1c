package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/slavaghoul1337-coder/genge/types"
)

const (
	defaultRedisPrefix    = "genge:redemption"
	defaultReservationTTL = 2 * time.Minute
)

var _ Ledger = (*Redis)(nil)

// storedRecord is the committed value. The token tells a late holder of an
// expired reservation apart from the one that committed.
type storedRecord struct {
	types.RedemptionRecord
	Token string `json:"reservation"`
}

// commitScript promotes the reservation holding token ARGV[1] to a permanent record.
// Returns 1 on commit, 0 when absent, or the stored value otherwise (another
// reservation's token or a committed record).
var commitScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if not current then
  return 0
end
if current == ARGV[1] then
  redis.call("SET", KEYS[1], ARGV[2])
  return 1
end
return current
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a ledger shared by several processes. Reservations expire after a TTL
// so a crashed holder cannot block a reference forever; committed records do not.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	owned  bool
}

func NewRedis(client redis.UniversalClient, prefix string, reservationTTL time.Duration) *Redis {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = defaultRedisPrefix
	}
	if reservationTTL <= 0 {
		reservationTTL = defaultReservationTTL
	}
	return &Redis{client: client, prefix: trimmedPrefix, ttl: reservationTTL}
}

// OpenRedis connects to url (redis://...) and verifies the connection.
func OpenRedis(ctx context.Context, url, prefix string, reservationTTL time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "invalid redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "failed to connect to redis")
	}
	r := NewRedis(client, prefix, reservationTTL)
	r.owned = true
	return r, nil
}

func (r *Redis) key(normalized string) string {
	return fmt.Sprintf("%s:%s", r.prefix, normalized)
}

func (r *Redis) TryReserve(ctx context.Context, txRef string) (Reservation, bool, error) {
	key, err := normalize(txRef)
	if err != nil {
		return Reservation{}, false, err
	}
	res := newReservation(key)
	ok, err := r.client.SetNX(ctx, r.key(key), res.Token, r.ttl).Result()
	if err != nil {
		return Reservation{}, false, errors.Wrap(err, "failed to reserve transaction reference")
	}
	if !ok {
		return Reservation{}, false, nil
	}
	return res, true, nil
}

func (r *Redis) Commit(ctx context.Context, res Reservation, record types.RedemptionRecord) error {
	key, err := commitKey(res, record)
	if err != nil {
		return err
	}
	record.TxRef = key

	payload, err := json.Marshal(storedRecord{RedemptionRecord: record, Token: res.Token})
	if err != nil {
		return errors.Wrap(err, "failed to encode redemption")
	}

	raw, err := commitScript.Run(ctx, r.client, []string{r.key(key)}, res.Token, string(payload)).Result()
	if err != nil {
		return errors.Wrap(err, "failed to commit redemption")
	}

	switch v := raw.(type) {
	case int64:
		if v == 1 {
			return nil
		}
		return ErrNotReserved
	case string:
		if !isRecord(v) {
			// someone else reserved after ours expired
			return ErrNotReserved
		}
		var existing storedRecord
		if err := json.Unmarshal([]byte(v), &existing); err != nil {
			return errors.Wrap(err, "failed to decode stored redemption")
		}
		if existing.Token != res.Token {
			return ErrNotReserved
		}
		if existing.SameClaim(record) {
			return nil
		}
		return ErrConflictingCommit
	default:
		return fmt.Errorf("unexpected redis commit response type: %T", raw)
	}
}

func (r *Redis) Release(ctx context.Context, res Reservation) error {
	key, err := normalize(res.TxRef)
	if err != nil {
		return err
	}
	err = releaseScript.Run(ctx, r.client, []string{r.key(key)}, res.Token).Err()
	return errors.Wrap(err, "failed to release reservation")
}

func (r *Redis) Lookup(ctx context.Context, txRef string) (*types.RedemptionRecord, error) {
	key, err := normalize(txRef)
	if err != nil {
		return nil, err
	}

	v, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load redemption")
	}
	if !isRecord(v) {
		return nil, ErrRecordNotFound
	}

	var rec storedRecord
	if err := json.Unmarshal([]byte(v), &rec); err != nil {
		return nil, errors.Wrap(err, "failed to decode stored redemption")
	}
	return &rec.RedemptionRecord, nil
}

// isRecord reports whether v is a committed record rather than a reservation token.
func isRecord(v string) bool {
	return strings.HasPrefix(v, "{")
}

// Close closes the client only when OpenRedis created it.
func (r *Redis) Close() error {
	if r.owned {
		return r.client.Close()
	}
	return nil
}
