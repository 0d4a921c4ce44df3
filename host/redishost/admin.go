package redishost

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/loginhook/luahook"
)

// ErrInvalidName is returned for empty names and names containing dots,
// spaces or parentheses.
var ErrInvalidName = errors.New("invalid namespace or routine name")

const dropNamespaceScript = `
local existed = redis.call("SREM", KEYS[1], ARGV[1])
redis.call("DEL", KEYS[2])
return existed
`

var dropNamespaceLua = redis.NewScript(dropNamespaceScript)

// Admin manages the catalog and server flags shared by all hosts with the
// same prefix.
type Admin struct {
	redis redis.UniversalClient
	keys  keyspace
}

func validName(name string) bool {
	return name != "" && !strings.ContainsAny(name, ". ()")
}

func NewAdmin(client redis.UniversalClient, prefix string) *Admin {
	return &Admin{redis: client, keys: newKeyspace(prefix)}
}

// CreateNamespace makes namespace resolvable. It is idempotent.
func (a *Admin) CreateNamespace(ctx context.Context, namespace string) error {
	if !validName(namespace) {
		return ErrInvalidName
	}
	return a.redis.SAdd(ctx, a.keys.namespaces(), namespace).Err()
}

// DropNamespace removes namespace and every routine in it. It reports whether
// the namespace existed.
func (a *Admin) DropNamespace(ctx context.Context, namespace string) (bool, error) {
	if namespace == "" {
		return false, ErrInvalidName
	}
	n, err := dropNamespaceLua.Run(ctx, a.redis,
		[]string{a.keys.namespaces(), a.keys.namespace(namespace)}, namespace).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Register compiles source and stores it as namespace.routine, creating the
// namespace if needed.
func (a *Admin) Register(ctx context.Context, namespace, routine, source string) error {
	if !validName(namespace) || !validName(routine) {
		return ErrInvalidName
	}
	if _, err := luahook.Compile(namespace+"."+routine, source); err != nil {
		return err
	}
	_, err := a.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, a.keys.namespaces(), namespace)
		pipe.HSet(ctx, a.keys.namespace(namespace), routine, source)
		return nil
	})
	return err
}

// Unregister removes one routine. The namespace stays.
func (a *Admin) Unregister(ctx context.Context, namespace, routine string) (bool, error) {
	n, err := a.redis.HDel(ctx, a.keys.namespace(namespace), routine).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Routines lists routine names in namespace, sorted.
func (a *Admin) Routines(ctx context.Context, namespace string) ([]string, error) {
	names, err := a.redis.HKeys(ctx, a.keys.namespace(namespace)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Source returns the Lua source of namespace.routine.
func (a *Admin) Source(ctx context.Context, namespace, routine string) (string, bool, error) {
	src, err := a.redis.HGet(ctx, a.keys.namespace(namespace), routine).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return src, true, nil
}

// Namespaces lists namespace names, sorted.
func (a *Admin) Namespaces(ctx context.Context) ([]string, error) {
	names, err := a.redis.SMembers(ctx, a.keys.namespaces()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (a *Admin) SetRecovery(ctx context.Context, on bool) error {
	return a.setFlag(ctx, a.keys.recovery(), on)
}

func (a *Admin) SetEventTrigger(ctx context.Context, databaseID string, on bool) error {
	return a.setFlag(ctx, a.keys.eventTrigger(databaseID), on)
}

func (a *Admin) AddSuperuser(ctx context.Context, user string) error {
	return a.redis.SAdd(ctx, a.keys.superusers(), user).Err()
}

func (a *Admin) RemoveSuperuser(ctx context.Context, user string) error {
	return a.redis.SRem(ctx, a.keys.superusers(), user).Err()
}

// Value reads hook data for databaseID outside any transaction.
func (a *Admin) Value(ctx context.Context, databaseID, key string) (string, bool, error) {
	v, err := a.redis.Get(ctx, a.keys.data(databaseID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (a *Admin) setFlag(ctx context.Context, key string, on bool) error {
	if on {
		return a.redis.Set(ctx, key, "1", 0).Err()
	}
	if err := a.redis.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("clear %s: %w", key, err)
	}
	return nil
}
