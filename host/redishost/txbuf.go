package redishost

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

var (
	ErrTransactionActive = errors.New("transaction already in progress")
	ErrNoSubTransaction  = errors.New("no sub-transaction in progress")
)

type opKind uint8

const (
	opSet opKind = iota
	opDel
)

type bufferedOp struct {
	kind  opKind
	key   string
	value string
}

// txbuf is the write buffer of one open transaction. marks holds the buffer
// length at each open sub-transaction.
type txbuf struct {
	ops   []bufferedOp
	marks []int
}

func (t *txbuf) set(key, value string) {
	t.ops = append(t.ops, bufferedOp{kind: opSet, key: key, value: value})
}

func (t *txbuf) del(key string) {
	t.ops = append(t.ops, bufferedOp{kind: opDel, key: key})
}

// lookup returns the latest buffered state of key. found is false when the
// buffer has no opinion and the caller must read Redis.
func (t *txbuf) lookup(key string) (value string, deleted, found bool) {
	for i := len(t.ops) - 1; i >= 0; i-- {
		op := t.ops[i]
		if op.key != key {
			continue
		}
		if op.kind == opDel {
			return "", true, true
		}
		return op.value, false, true
	}
	return "", false, false
}

func (t *txbuf) beginSub() {
	t.marks = append(t.marks, len(t.ops))
}

func (t *txbuf) releaseSub() error {
	if len(t.marks) == 0 {
		return ErrNoSubTransaction
	}
	t.marks = t.marks[:len(t.marks)-1]
	return nil
}

func (t *txbuf) rollbackSub() error {
	if len(t.marks) == 0 {
		return ErrNoSubTransaction
	}
	mark := t.marks[len(t.marks)-1]
	t.marks = t.marks[:len(t.marks)-1]
	t.ops = t.ops[:mark]
	return nil
}

func (t *txbuf) depth() int {
	return len(t.marks)
}

// flush applies every buffered op atomically.
func (t *txbuf) flush(ctx context.Context, client redis.UniversalClient) error {
	if len(t.ops) == 0 {
		return nil
	}
	_, err := client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, op := range t.ops {
			switch op.kind {
			case opSet:
				pipe.Set(ctx, op.key, op.value, 0)
			case opDel:
				pipe.Del(ctx, op.key)
			}
		}
		return nil
	})
	return err
}
