package tagindex

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Redis shares tag memberships across processes using two set families:
//
//	tag:<ns>:<tag>      SET of keys carrying the tag
//	tagsof:<ns>:<key>   SET of tags the key carries
//
// Both directions are written in one pipelined round-trip per call.
type Redis struct {
	rdb redis.UniversalClient
	ns  string
}

var _ Index = (*Redis)(nil)

func NewRedis(client redis.UniversalClient, namespace string) *Redis {
	return &Redis{rdb: client, ns: namespace}
}

func (r *Redis) tagKey(tag string) string  { return "tag:" + r.ns + ":" + tag }
func (r *Redis) keyTags(key string) string { return "tagsof:" + r.ns + ":" + key }

func (r *Redis) Tag(ctx context.Context, key string, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	_, err := r.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, t := range tags {
			p.SAdd(ctx, r.tagKey(t), key)
		}
		members := make([]interface{}, len(tags))
		for i, t := range tags {
			members[i] = t
		}
		p.SAdd(ctx, r.keyTags(key), members...)
		return nil
	})
	return err
}

func (r *Redis) Keys(ctx context.Context, tags []string) ([]string, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	setKeys := make([]string, len(tags))
	for i, t := range tags {
		setKeys[i] = r.tagKey(t)
	}
	return r.rdb.SUnion(ctx, setKeys...).Result()
}

func (r *Redis) Untag(ctx context.Context, key string) error {
	tags, err := r.rdb.SMembers(ctx, r.keyTags(key)).Result()
	if err != nil {
		return err
	}
	_, err = r.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, t := range tags {
			p.SRem(ctx, r.tagKey(t), key)
		}
		p.Del(ctx, r.keyTags(key))
		return nil
	})
	return err
}

func (r *Redis) RemoveTags(ctx context.Context, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	for _, t := range tags {
		keys, err := r.rdb.SMembers(ctx, r.tagKey(t)).Result()
		if err != nil {
			return err
		}
		_, err = r.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
			for _, k := range keys {
				p.SRem(ctx, r.keyTags(k), t)
			}
			p.Del(ctx, r.tagKey(t))
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op; the index never owns the client.
func (r *Redis) Close(context.Context) error { return nil }
