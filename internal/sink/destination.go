package sink

import (
	"context"

	kit "tglogsink/internal/transport"
	logx "tglogsink/pkg/logx"
)

// ChatLookup discovers a chat id remotely (resolver.Resolver).
type ChatLookup interface {
	Lookup(ctx context.Context) (kit.ChatID, error)
}

// ChatCache remembers a discovered chat id per bot (storage.Store).
type ChatCache interface {
	GetChat(ctx context.Context, key string) (kit.ChatID, bool, error)
	PutChat(ctx context.Context, key string, chat kit.ChatID) error
}

// ResolveDestination picks the chat to deliver to: configured id first, then
// the cache, then a remote lookup whose result is cached. When all of them
// come up empty it logs exactly one error and reports ok=false.
//
// cache and lookup may be nil.
func ResolveDestination(ctx context.Context, configured kit.ChatID, cache ChatCache, key string, lookup ChatLookup, log logx.Logger) (kit.ChatID, bool) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if !configured.IsZero() {
		log.Info("chat id", logx.String("chat", configured.String()), logx.String("source", "config"))
		return configured, true
	}

	if cache != nil && key != "" {
		id, ok, err := cache.GetChat(ctx, key)
		if err != nil {
			log.Warn("chat cache read failed", logx.Err(err))
		} else if ok && !id.IsZero() {
			log.Info("chat id", logx.String("chat", id.String()), logx.String("source", "cache"))
			return id, true
		}
	}

	var (
		id  kit.ChatID
		err error
	)
	if lookup != nil {
		id, err = lookup.Lookup(ctx)
	}
	if lookup == nil || err != nil || id.IsZero() {
		f := []logx.Field{}
		if err != nil {
			f = append(f, logx.Err(err))
		}
		log.Error("did not get chat id; telegram log forwarding disabled", f...)
		return "", false
	}

	if cache != nil && key != "" {
		if err := cache.PutChat(ctx, key, id); err != nil {
			log.Warn("chat cache write failed", logx.Err(err))
		}
	}
	log.Info("chat id", logx.String("chat", id.String()), logx.String("source", "getUpdates"))
	return id, true
}
