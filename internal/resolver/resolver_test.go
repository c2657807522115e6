package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danellekruger/star-wars-api-wrapper/internal/cache"
	"github.com/danellekruger/star-wars-api-wrapper/internal/swapi"
)

const base = "https://swapi.dev/api/"

// stubUpstream serves canned resources by path and counts fetches.
type stubUpstream struct {
	mu        sync.Mutex
	resources map[string]swapi.Resource
	delays    map[string]time.Duration
	block     map[string]chan struct{}
	calls     map[string]int
	total     atomic.Int32
	inFlight  atomic.Int32
	maxFlight atomic.Int32
}

func newStub() *stubUpstream {
	return &stubUpstream{
		resources: map[string]swapi.Resource{},
		delays:    map[string]time.Duration{},
		block:     map[string]chan struct{}{},
		calls:     map[string]int{},
	}
}

func (s *stubUpstream) Fetch(ctx context.Context, path string) (swapi.Resource, error) {
	s.total.Add(1)
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		m := s.maxFlight.Load()
		if n <= m || s.maxFlight.CompareAndSwap(m, n) {
			break
		}
	}

	s.mu.Lock()
	s.calls[path]++
	res, ok := s.resources[path]
	delay := s.delays[path]
	block := s.block[path]
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if block != nil {
		<-block
	}
	if !ok {
		return nil, &swapi.APIError{Kind: swapi.ErrNotFound, Path: path}
	}
	return res, nil
}

func (s *stubUpstream) callsFor(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

func link(kind string, id int) string { return fmt.Sprintf("%s%s/%d/", base, kind, id) }

func film(id int, characters ...string) swapi.Resource {
	links := make([]any, len(characters))
	for i, c := range characters {
		links[i] = c
	}
	return swapi.Resource{
		"title":      fmt.Sprintf("Film %d", id),
		"episode_id": float64(id),
		"url":        fmt.Sprintf("%sfilms/%d/", base, id),
		"characters": links,
	}
}

func newTestResolver(up Fetcher, limit int) (*Resolver, *cache.Store) {
	store := cache.NewStore(cache.Options{DefaultTTL: time.Minute})
	return New(store, up, Options{FanOutLimit: limit}), store
}

func TestGetRelated_PreservesLinkOrder(t *testing.T) {
	up := newStub()
	links := []string{link("people", 1), link("people", 2), link("people", 3), link("people", 4)}
	up.resources["films/1/"] = film(1, links...)
	for i, l := range links {
		up.resources[l] = swapi.Resource{"name": fmt.Sprintf("person %d", i+1)}
		// earlier links finish last
		up.delays[l] = time.Duration(len(links)-i) * 15 * time.Millisecond
	}

	r, _ := newTestResolver(up, 0)
	res, err := r.GetRelated(context.Background(), 1, "characters")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Count != 4 || len(res.Items) != 4 {
		t.Fatalf("expected 4 items, got %+v", res)
	}
	for i, item := range res.Items {
		if want := fmt.Sprintf("person %d", i+1); item["name"] != want {
			t.Errorf("items[%d] = %v, want %s", i, item["name"], want)
		}
	}
	if res.SourceID != 1 || res.Relation != "characters" {
		t.Errorf("unexpected result metadata %+v", res)
	}
}

func TestGetRelated_FansOutConcurrently(t *testing.T) {
	up := newStub()
	var links []string
	for i := 1; i <= 5; i++ {
		l := link("people", i)
		links = append(links, l)
		up.resources[l] = swapi.Resource{"name": l}
		up.delays[l] = 50 * time.Millisecond
	}
	up.resources["films/1/"] = film(1, links...)

	r, _ := newTestResolver(up, 0)
	start := time.Now()
	if _, err := r.GetRelated(context.Background(), 1, "characters"); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("links resolved sequentially, took %v", elapsed)
	}
	if up.maxFlight.Load() < 2 {
		t.Errorf("expected concurrent fetches, max in flight %d", up.maxFlight.Load())
	}
}

func TestGetRelated_FanOutLimit(t *testing.T) {
	up := newStub()
	var links []string
	for i := 1; i <= 6; i++ {
		l := link("starships", i)
		links = append(links, l)
		up.resources[l] = swapi.Resource{"name": l}
		up.delays[l] = 20 * time.Millisecond
	}
	f := film(1)
	f["starships"] = toAny(links)
	up.resources["films/1/"] = f

	r, _ := newTestResolver(up, 2)
	res, err := r.GetRelated(context.Background(), 1, "starships")
	if err != nil {
		t.Fatal(err)
	}
	if res.Count != 6 {
		t.Errorf("expected 6 items, got %d", res.Count)
	}
	if up.maxFlight.Load() > 2 {
		t.Errorf("fan-out limit exceeded: %d in flight", up.maxFlight.Load())
	}
}

func TestGetRelated_ReadThroughIdempotent(t *testing.T) {
	up := newStub()
	links := []string{link("people", 1), link("people", 2)}
	up.resources["films/1/"] = film(1, links...)
	for _, l := range links {
		up.resources[l] = swapi.Resource{"name": l}
	}

	r, _ := newTestResolver(up, 0)
	first, err := r.GetRelated(context.Background(), 1, "characters")
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.GetRelated(context.Background(), 1, "characters")
	if err != nil {
		t.Fatal(err)
	}

	if first.Count != second.Count {
		t.Errorf("results differ: %d vs %d", first.Count, second.Count)
	}
	if got := up.total.Load(); got != 3 {
		t.Errorf("expected 3 upstream calls (film + 2 links), got %d", got)
	}
}

func TestGetRelated_LinksSharedAcrossFilms(t *testing.T) {
	up := newStub()
	luke := link("people", 1)
	up.resources["films/1/"] = film(1, luke)
	up.resources["films/2/"] = film(2, luke)
	up.resources[luke] = swapi.Resource{"name": "Luke Skywalker"}

	r, _ := newTestResolver(up, 0)
	for _, id := range []int{1, 2} {
		if _, err := r.GetRelated(context.Background(), id, "characters"); err != nil {
			t.Fatal(err)
		}
	}
	if n := up.callsFor(luke); n != 1 {
		t.Errorf("expected shared link fetched once, got %d", n)
	}
}

func TestGetRelated_NotFoundShortCircuits(t *testing.T) {
	up := newStub()
	r, store := newTestResolver(up, 0)

	_, err := r.GetRelated(context.Background(), 99, "characters")
	if !errors.Is(err, swapi.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if got := up.total.Load(); got != 1 {
		t.Errorf("expected only the primary fetch, got %d upstream calls", got)
	}
	if st := store.Stats(); st.TotalEntries != 0 {
		t.Errorf("failure must not be cached, store has %d entries", st.TotalEntries)
	}
}

func TestGetRelated_EmptyRelation(t *testing.T) {
	up := newStub()
	f := film(1)
	delete(f, "characters")
	up.resources["films/1/"] = f

	r, _ := newTestResolver(up, 0)
	for _, kind := range []string{"characters", "vehicles"} {
		res, err := r.GetRelated(context.Background(), 1, kind)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", kind, err)
		}
		if res.Count != 0 || res.Items == nil || len(res.Items) != 0 {
			t.Errorf("%s: expected empty non-nil items, got %+v", kind, res)
		}
	}
}

func TestGetRelated_UnknownRelation(t *testing.T) {
	up := newStub()
	r, _ := newTestResolver(up, 0)

	_, err := r.GetRelated(context.Background(), 1, "droids")
	if !errors.Is(err, ErrUnknownRelation) {
		t.Fatalf("expected ErrUnknownRelation, got %v", err)
	}
	if up.total.Load() != 0 {
		t.Error("unknown relation should not reach the upstream")
	}
}

func TestGetRelated_FailFast(t *testing.T) {
	up := newStub()
	slow := link("people", 1)
	missing := link("people", 404)
	release := make(chan struct{})
	defer close(release)

	up.resources["films/1/"] = film(1, slow, missing)
	up.resources[slow] = swapi.Resource{"name": "slow"}
	up.block[slow] = release

	r, store := newTestResolver(up, 0)

	done := make(chan error, 1)
	go func() {
		_, err := r.GetRelated(context.Background(), 1, "characters")
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, swapi.ErrNotFound) {
			t.Fatalf("expected failing link's ErrNotFound, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("GetRelated waited for the slow sibling instead of failing fast")
	}

	if _, ok := store.Get(cache.Key("film", "1", "characters")); ok {
		t.Error("failed aggregate must not be cached")
	}
}

func TestGetRelated_ConcurrentCallersShareWork(t *testing.T) {
	up := newStub()
	l := link("planets", 1)
	f := film(1)
	f["planets"] = []any{l}
	up.resources["films/1/"] = f
	up.resources[l] = swapi.Resource{"name": "Tatooine"}
	up.delays[l] = 30 * time.Millisecond

	r, _ := newTestResolver(up, 0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.GetRelated(context.Background(), 1, "planets"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if n := up.callsFor(l); n != 1 {
		t.Errorf("expected one upstream fetch for the shared link, got %d", n)
	}
}

func TestGetPrimary_CachesFilm(t *testing.T) {
	up := newStub()
	up.resources["films/2/"] = film(2)
	r, store := newTestResolver(up, 0)

	for i := 0; i < 3; i++ {
		f, err := r.GetPrimary(context.Background(), 2)
		if err != nil || f["title"] != "Film 2" {
			t.Fatalf("unexpected result %v, %v", f, err)
		}
	}
	if up.callsFor("films/2/") != 1 {
		t.Errorf("expected 1 upstream call, got %d", up.callsFor("films/2/"))
	}
	if _, ok := store.Get("film_2"); !ok {
		t.Error("expected film_2 in the store")
	}
}

func TestGetAllPrimary_SortsByEpisodeAndFollowsPages(t *testing.T) {
	up := newStub()
	up.resources["films/"] = swapi.Resource{
		"count":   float64(3),
		"next":    base + "films/?page=2",
		"results": []any{map[string]any(film(5)), map[string]any(film(4))},
	}
	up.resources[base+"films/?page=2"] = swapi.Resource{
		"count":   float64(3),
		"next":    nil,
		"results": []any{map[string]any(film(1))},
	}

	r, store := newTestResolver(up, 0)
	res, err := r.GetAllPrimary(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Count != 3 {
		t.Fatalf("expected 3 films, got %d", res.Count)
	}
	for i, want := range []float64{1, 4, 5} {
		if res.Items[i]["episode_id"] != want {
			t.Errorf("items[%d] episode = %v, want %v", i, res.Items[i]["episode_id"], want)
		}
	}
	if _, ok := store.Get("films_all"); !ok {
		t.Error("expected films_all in the store")
	}

	if _, err := r.GetAllPrimary(context.Background()); err != nil {
		t.Fatal(err)
	}
	if up.callsFor("films/") != 1 {
		t.Errorf("expected cached film list, got %d fetches", up.callsFor("films/"))
	}
}

func TestCacheStats(t *testing.T) {
	up := newStub()
	up.resources["films/1/"] = film(1)
	r, _ := newTestResolver(up, 0)
	r.GetPrimary(context.Background(), 1)

	st := r.CacheStats()
	if st.TotalEntries != 1 || st.LiveEntries != 1 || st.Loads != 1 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
