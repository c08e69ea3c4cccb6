package cache

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

type folder struct {
	ID    string   `json:"id"`
	Tasks []string `json:"tasks"`
}

func decodeFolders(data []byte) (any, error) {
	var out []folder
	if err := sonic.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisPersisterWarmsFetchedSnapshot(t *testing.T) {
	mr, client := newRedis(t)
	p := NewRedisPersister(client, "gt", time.Minute)
	ctx := context.Background()
	want := []folder{{ID: "inbox", Tasks: []string{"T1", "T2"}}}

	first := newTestStore(t, p)
	first.Register(Resource{Key: "folders", Fetch: func(context.Context) (any, error) { return want, nil }, Decode: decodeFolders})
	if _, err := first.Fetch(ctx, "folders"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if ttl := mr.TTL("gt:snapshot:folders"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}

	second := newTestStore(t, p)
	second.Register(Resource{Key: "folders", Fetch: func(context.Context) (any, error) { return nil, nil }, Decode: decodeFolders})
	n, err := second.Warm(ctx)
	if err != nil {
		t.Fatalf("warm: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 warmed key, got %d", n)
	}
	snap := second.Get("folders")
	if !snap.Stale {
		t.Fatalf("expected warmed snapshot to be stale")
	}
	if !reflect.DeepEqual(snap.Value, want) {
		t.Fatalf("unexpected warmed value: %#v", snap.Value)
	}
}

func TestOptimisticPatchIsNotPersisted(t *testing.T) {
	mr, client := newRedis(t)
	s := newTestStore(t, NewRedisPersister(client, "gt", 0))

	if _, err := s.Patch("folders", func(any) (any, error) { return []folder{{ID: "x"}}, nil }); err != nil {
		t.Fatalf("patch: %v", err)
	}
	if mr.Exists("gt:snapshot:folders") {
		t.Fatalf("optimistic snapshot was persisted")
	}
}

func TestRedisPersisterCorruptEntryIsMiss(t *testing.T) {
	mr, client := newRedis(t)
	p := NewRedisPersister(client, "", 0)
	if err := mr.Set("snapshot:k", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, ok, err := p.Load(context.Background(), "k")
	if err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if mr.Exists("snapshot:k") {
		t.Fatalf("expected corrupt entry to be evicted")
	}
}

func TestSQLitePersisterUpsert(t *testing.T) {
	p, err := OpenSQLite(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	ctx := context.Background()

	if _, ok, err := p.Load(ctx, "overview"); err != nil || ok {
		t.Fatalf("expected empty load, got ok=%v err=%v", ok, err)
	}

	at := time.Unix(1700000000, 0)
	if err := p.Save(ctx, "overview", Record{Version: 1, FetchedAt: at, Data: []byte(`[1]`)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := p.Save(ctx, "overview", Record{Version: 4, FetchedAt: at, Data: []byte(`[1,2]`)}); err != nil {
		t.Fatalf("save again: %v", err)
	}
	rec, ok, err := p.Load(ctx, "overview")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if rec.Version != 4 || string(rec.Data) != "[1,2]" || !rec.FetchedAt.Equal(at) {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	if _, err := OpenSQLite(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
