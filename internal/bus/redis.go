package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/reflux-run/reflux/internal/apperr"
)

// RedisBus is the redis-backed request/reply transport named in spec §4.2
// ("a redis-backed broker" is one of the transports the design leaves
// unspecified, alongside in-process dispatch and a dedicated RPC). It wraps
// a local *Bus, which still holds the handler registry and schema
// introspection; Dispatch crosses the network via a Redis list per address
// instead of invoking the local registry directly, so node workers can run
// as separate processes from the engine that calls them.
//
// Wire shape: a request is RPUSH'd onto "<prefix>req:<address>" and a
// worker BLPOPs it, invokes the locally registered handler, and RPUSHes the
// reply onto "<prefix>reply:<requestID>", which the caller BLPOPs with the
// bus's configured timeout. A set at "<prefix>addresses" tracks which
// addresses have a worker, so Dispatch can fail fast with NotFound instead
// of waiting out a full timeout for an address nobody serves.
type RedisBus struct {
	*Bus
	rdb       *redis.Client
	keyPrefix string
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewRedis wraps local (used for handler registration and introspection)
// with rdb for cross-process dispatch. keyPrefix namespaces the broker's
// keys so multiple environments can share one Redis instance; empty selects
// "reflux:bus:".
func NewRedis(local *Bus, rdb *redis.Client, keyPrefix string) *RedisBus {
	if keyPrefix == "" {
		keyPrefix = "reflux:bus:"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisBus{Bus: local, rdb: rdb, keyPrefix: keyPrefix, ctx: ctx, cancel: cancel}
}

// Close stops every worker loop started by StartWorkers. It does not close
// the underlying redis.Client, which the caller owns.
func (r *RedisBus) Close() {
	r.cancel()
}

func (r *RedisBus) reqKey(addr string) string {
	return r.keyPrefix + "req:" + addr
}

func (r *RedisBus) replyKey(id string) string {
	return r.keyPrefix + "reply:" + id
}

func (r *RedisBus) addressSetKey() string {
	return r.keyPrefix + "addresses"
}

// StartWorkers advertises every address currently registered on the local
// bus and starts one consumer goroutine per address, each pulling dispatched
// requests off that address's Redis list and invoking the local handler.
// Call it once, after every nodes.RegisterAll/Register call has completed.
func (r *RedisBus) StartWorkers(ctx context.Context) error {
	r.mu.RLock()
	addrs := make([]string, 0, len(r.entries))
	for addr := range r.entries {
		addrs = append(addrs, addr)
	}
	r.mu.RUnlock()
	for _, addr := range addrs {
		if err := r.rdb.SAdd(ctx, r.addressSetKey(), addr).Err(); err != nil {
			return fmt.Errorf("bus: advertise %s: %w", addr, err)
		}
		go r.serve(addr)
	}
	return nil
}

type rpcRequest struct {
	ID     string         `json:"id"`
	Params map[string]any `json:"params"`
	Meta   Meta           `json:"meta"`
}

type rpcReply struct {
	Output map[string]any `json:"output,omitempty"`
	Err    string         `json:"err,omitempty"`
}

// serve loops BLPOP-ing requests for addr off its Redis list until Close is
// called, dispatching each to the locally registered handler and RPUSHing
// the reply. One request is handled at a time per address worker; the queue
// absorbs bursts.
func (r *RedisBus) serve(addr string) {
	key := r.reqKey(addr)
	for {
		if r.ctx.Err() != nil {
			return
		}
		res, err := r.rdb.BLPop(r.ctx, 5*time.Second, key).Result()
		if err != nil {
			if err == redis.Nil || r.ctx.Err() != nil {
				continue
			}
			time.Sleep(time.Second)
			continue
		}
		if len(res) < 2 {
			continue
		}
		r.handleRequest(addr, res[1])
	}
}

func (r *RedisBus) handleRequest(addr, payload string) {
	var req rpcRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return
	}

	r.mu.RLock()
	reg, ok := r.entries[addr]
	r.mu.RUnlock()

	var reply rpcReply
	if !ok {
		reply.Err = fmt.Sprintf("no handler registered for %s", addr)
	} else {
		callCtx, cancel := context.WithTimeout(r.ctx, r.timeout)
		out, err := reg.handler(callCtx, req.Params, req.Meta)
		cancel()
		if err != nil {
			reply.Err = err.Error()
		} else {
			reply.Output = out
		}
	}

	data, err := json.Marshal(reply)
	if err != nil {
		return
	}
	key := r.replyKey(req.ID)
	bg := context.Background()
	if err := r.rdb.RPush(bg, key, data).Err(); err != nil {
		return
	}
	r.rdb.Expire(bg, key, 30*time.Second)
}

// Dispatch sends name@version's request across Redis and blocks for its
// reply, honoring the same "latest" rewrite and timeout contract as
// (*Bus).Dispatch. It fails fast with NotFound if no worker has advertised
// the address, rather than waiting out the full timeout.
func (r *RedisBus) Dispatch(ctx context.Context, name, version string, params map[string]any, meta Meta) (map[string]any, error) {
	if version == "" || version == "latest" {
		version = DefaultVersion
	}
	addr := address(name, version)

	exists, err := r.rdb.SIsMember(ctx, r.addressSetKey(), addr).Result()
	if err != nil {
		return nil, apperr.NewExecutionError("bus: check address %s: %s", addr, err)
	}
	if !exists {
		return nil, apperr.NewNotFoundError("node handler", addr)
	}

	req := rpcRequest{ID: uuid.NewString(), Params: params, Meta: meta}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, apperr.NewExecutionError("bus: encode request: %s", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.rdb.RPush(callCtx, r.reqKey(addr), data).Err(); err != nil {
		return nil, apperr.NewExecutionError("bus: enqueue %s: %s", addr, err)
	}

	res, err := r.rdb.BLPop(callCtx, r.timeout, r.replyKey(req.ID)).Result()
	if err != nil {
		if err == redis.Nil || callCtx.Err() != nil {
			return nil, apperr.NewTimeoutError("dispatch %s timed out", addr)
		}
		return nil, apperr.NewExecutionError("bus: await reply %s: %s", addr, err)
	}
	if len(res) < 2 {
		return nil, apperr.NewTimeoutError("dispatch %s timed out", addr)
	}

	var reply rpcReply
	if err := json.Unmarshal([]byte(res[1]), &reply); err != nil {
		return nil, apperr.NewExecutionError("bus: decode reply %s: %s", addr, err)
	}
	if reply.Err != "" {
		return nil, apperr.NewExecutionError("%s", reply.Err)
	}
	return reply.Output, nil
}
