package parallel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kbukum/polysome/config"
	"github.com/kbukum/polysome/engine"
	"github.com/kbukum/polysome/errors"
	"github.com/kbukum/polysome/workflow"
)

func TestPartition(t *testing.T) {
	tests := []struct {
		n, k  int
		sizes []int
	}{
		{10, 1, []int{10}},
		{10, 2, []int{5, 5}},
		{10, 4, []int{3, 3, 2, 2}},
		{3, 4, []int{1, 1, 1, 0}},
		{0, 2, []int{0, 0}},
		{7, 0, []int{7}},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("n%d_k%d", tc.n, tc.k), func(t *testing.T) {
			shards := Partition(tc.n, tc.k)
			sizes := make([]int, len(shards))
			next := 0
			for i, s := range shards {
				if s.Index != i || s.Start != next {
					t.Errorf("shard %d not contiguous: %+v", i, s)
				}
				next = s.End
				sizes[i] = s.Len()
			}
			if next != tc.n {
				t.Errorf("shards cover %d records, want %d", next, tc.n)
			}
			if !reflect.DeepEqual(sizes, tc.sizes) {
				t.Errorf("sizes %v, want %v", sizes, tc.sizes)
			}
		})
	}
}

func fakeBackend(t *testing.T) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		q := req.Messages[len(req.Messages)-1].Content
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": "re: " + q}}},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL
}

func deadURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

func vllmNode(url string) workflow.NodeSpec {
	return workflow.NodeSpec{ID: "gen", Engine: workflow.EngineVLLM, Params: map[string]any{
		workflow.ParamModelName:    "m",
		engine.ParamBaseURL:        url,
		engine.ParamPollInterval:   "5ms",
		engine.ParamStartupTimeout: "50ms",
	}}
}

func makeItems(n int) []engine.Item {
	items := make([]engine.Item, n)
	for i := range items {
		id := fmt.Sprintf("case-%02d", i)
		items[i] = engine.Item{ID: id, Question: "q" + id}
	}
	return items
}

// failingShards points the given shards at a dead backend for their first
// n attempts (n < 0 means always) and records the devices each shard saw.
type failingShards struct {
	mu       sync.Mutex
	dead     string
	shards   map[int]int
	attempts map[int]int
	devices  map[int][]int
}

func newFailingShards(t *testing.T, shards map[int]int) *failingShards {
	return &failingShards{dead: deadURL(t), shards: shards, attempts: map[int]int{}, devices: map[int][]int{}}
}

func (f *failingShards) factory(node workflow.NodeSpec, deps engine.Deps) (engine.Engine, error) {
	f.mu.Lock()
	f.attempts[deps.Shard]++
	f.devices[deps.Shard] = deps.Devices
	n, bad := f.shards[deps.Shard]
	fail := bad && (n < 0 || f.attempts[deps.Shard] <= n)
	f.mu.Unlock()
	if fail {
		params := make(map[string]any, len(node.Params))
		for k, v := range node.Params {
			params[k] = v
		}
		params[engine.ParamBaseURL] = f.dead
		node.Params = params
	}
	return engine.New(node, deps)
}

func TestRunPreservesOrderForAnyShardCount(t *testing.T) {
	url := fakeBackend(t)
	for _, k := range []int{1, 2, 4} {
		for _, n := range []int{0, 3, 10} {
			t.Run(fmt.Sprintf("k%d_n%d", k, n), func(t *testing.T) {
				env := &config.Environment{VisibleDevices: []int{0, 1, 2, 3}}
				c := New(env, nil)
				items := makeItems(n)
				out, err := c.Run(context.Background(), Request{Node: vllmNode(url), Items: items, Size: k})
				if err != nil {
					t.Fatalf("Run: %v", err)
				}
				if len(out.Results) != n {
					t.Fatalf("got %d results, want %d", len(out.Results), n)
				}
				for i, r := range out.Results {
					if r.ID != items[i].ID || r.Answer != "re: "+items[i].Question {
						t.Errorf("result %d = %+v", i, r)
					}
				}
				if out.Failed() != 0 {
					t.Errorf("unexpected failures: %d", out.Failed())
				}
				if len(out.Shards) != k {
					t.Errorf("expected %d shard reports, got %d", k, len(out.Shards))
				}
			})
		}
	}
}

func TestRunStartsShardsConcurrently(t *testing.T) {
	const k = 4
	url := fakeBackend(t)

	// every shard holds its engine load until all k have arrived, so a
	// coordinator that ran shards one after another would time out
	var arrived sync.WaitGroup
	arrived.Add(k)
	all := make(chan struct{})
	go func() {
		arrived.Wait()
		close(all)
	}()
	factory := func(node workflow.NodeSpec, deps engine.Deps) (engine.Engine, error) {
		arrived.Done()
		select {
		case <-all:
		case <-time.After(5 * time.Second):
			return nil, fmt.Errorf("shard %d started alone", deps.Shard)
		}
		return engine.New(node, deps)
	}

	c := New(&config.Environment{VisibleDevices: []int{0, 1, 2, 3}}, nil, WithEngineFactory(factory))
	out, err := c.Run(context.Background(), Request{Node: vllmNode(url), Items: makeItems(8), Size: k})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Failed() != 0 {
		for _, sh := range out.Shards {
			if sh.Err != nil {
				t.Errorf("shard %d: %v", sh.Shard.Index, sh.Err)
			}
		}
		t.Fatalf("expected every shard to run alongside the others, %d records failed", out.Failed())
	}
}

func TestRunPinsShardsToPhysicalDevices(t *testing.T) {
	f := newFailingShards(t, nil)
	c := New(&config.Environment{VisibleDevices: []int{6, 7}}, nil, WithEngineFactory(f.factory))
	out, err := c.Run(context.Background(), Request{Node: vllmNode(fakeBackend(t)), Items: makeItems(4), Size: 2})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(f.devices, map[int][]int{0: {6}, 1: {7}}) {
		t.Errorf("devices = %v", f.devices)
	}
	if out.Shards[0].Device != 6 || out.Shards[1].Device != 7 {
		t.Errorf("reports = %+v", out.Shards)
	}
}

func TestRunMarksFailedShardRecords(t *testing.T) {
	f := newFailingShards(t, map[int]int{1: -1})
	c := New(&config.Environment{VisibleDevices: []int{0, 1}}, nil,
		WithEngineFactory(f.factory), WithRetryBackoff(time.Millisecond))
	items := makeItems(6)
	out, err := c.Run(context.Background(), Request{Node: vllmNode(fakeBackend(t)), Items: items, Size: 2, Retries: 1})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, r := range out.Results {
		if r.ID != items[i].ID {
			t.Errorf("result %d has id %q", i, r.ID)
		}
		wantFailed := i >= 3
		if r.Failed() != wantFailed {
			t.Errorf("result %d failed=%v, want %v", i, r.Failed(), wantFailed)
		}
		if wantFailed && !strings.Contains(r.Error, string(errors.ErrCodeEngineLoad)) {
			t.Errorf("result %d error = %q", i, r.Error)
		}
	}
	if out.Failed() != 3 {
		t.Errorf("Failed() = %d", out.Failed())
	}
	rep := out.Shards[1]
	if rep.Status != ShardFailed || rep.Attempts != 2 || rep.Err == nil {
		t.Errorf("shard report = %+v", rep)
	}
	if out.Shards[0].Status != ShardSucceeded {
		t.Errorf("healthy shard report = %+v", out.Shards[0])
	}
}

func TestRunRetriesShardOnce(t *testing.T) {
	f := newFailingShards(t, map[int]int{0: 1})
	c := New(&config.Environment{VisibleDevices: []int{0, 1}}, nil,
		WithEngineFactory(f.factory), WithRetryBackoff(time.Millisecond))
	out, err := c.Run(context.Background(), Request{Node: vllmNode(fakeBackend(t)), Items: makeItems(4), Size: 2, Retries: 1})
	if err != nil {
		t.Fatal(err)
	}
	if out.Failed() != 0 {
		t.Errorf("retry should have recovered the shard, failed=%d", out.Failed())
	}
	if out.Shards[0].Attempts != 2 || out.Shards[1].Attempts != 1 {
		t.Errorf("attempts = %d, %d", out.Shards[0].Attempts, out.Shards[1].Attempts)
	}
}

func TestRunFailFastFailsNode(t *testing.T) {
	f := newFailingShards(t, map[int]int{1: -1})
	c := New(&config.Environment{VisibleDevices: []int{0, 1}}, nil, WithEngineFactory(f.factory))
	_, err := c.Run(context.Background(), Request{Node: vllmNode(fakeBackend(t)), Items: makeItems(4), Size: 2, FailFast: true})
	if !errors.IsCode(err, errors.ErrCodeEngineLoad) {
		t.Fatalf("expected ENGINE_LOAD_ERROR, got %v", err)
	}
	appErr, _ := errors.AsAppError(err)
	if appErr.Details[errors.DetailShard] != 1 {
		t.Errorf("expected shard 1 in details, got %v", appErr.Details)
	}
}

func TestRunSingleShardLoadFailureFailsNode(t *testing.T) {
	c := New(nil, nil)
	_, err := c.Run(context.Background(), Request{Node: vllmNode(deadURL(t)), Items: makeItems(2), Size: 1})
	if !errors.IsCode(err, errors.ErrCodeEngineLoad) {
		t.Fatalf("expected ENGINE_LOAD_ERROR, got %v", err)
	}
}

func TestRunMissingDevice(t *testing.T) {
	c := New(&config.Environment{VisibleDevices: []int{0}}, nil)
	_, err := c.Run(context.Background(), Request{Node: vllmNode(fakeBackend(t)), Items: makeItems(4), Size: 2})
	if !errors.IsCode(err, errors.ErrCodeConfig) {
		t.Fatalf("expected CONFIG_ERROR, got %v", err)
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := New(&config.Environment{VisibleDevices: []int{0, 1}}, nil)
	_, err := c.Run(ctx, Request{Node: vllmNode(fakeBackend(t)), Items: makeItems(4), Size: 2})
	if !errors.IsCode(err, errors.ErrCodeCancelled) {
		t.Fatalf("expected CANCELLED, got %v", err)
	}
}
