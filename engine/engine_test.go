package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kbukum/polysome/config"
	"github.com/kbukum/polysome/errors"
	"github.com/kbukum/polysome/workflow"
)

// fakeServer is an OpenAI-compatible backend that answers "answer: <prompt>".
type fakeServer struct {
	*httptest.Server
	mu      sync.Mutex
	prompts []string
	fail    map[string]int
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	f := &fakeServer{fail: map[string]int{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"id":"m"}]}`))
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		prompt := req.Messages[len(req.Messages)-1].Content
		f.mu.Lock()
		f.prompts = append(f.prompts, prompt)
		status := f.fail[prompt]
		f.mu.Unlock()
		if status != 0 {
			http.Error(w, "backend exploded", status)
			return
		}
		content := "answer: " + prompt
		if prompt == "empty" {
			content = "  "
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "m",
			"choices": []map[string]any{{
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		})
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeServer) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

func node(kind workflow.EngineKind, params map[string]any) workflow.NodeSpec {
	p := map[string]any{workflow.ParamModelName: "m", ParamPollInterval: "10ms", ParamStartupTimeout: "2s"}
	for k, v := range params {
		p[k] = v
	}
	return workflow.NodeSpec{ID: "gen", Engine: kind, Params: p}
}

func items(questions ...string) []Item {
	out := make([]Item, len(questions))
	for i, q := range questions {
		out[i] = Item{ID: string(rune('a' + i)), Question: q, Fields: map[string]any{"text": q}}
	}
	return out
}

func TestNewSelectsVariant(t *testing.T) {
	tests := []struct {
		kind workflow.EngineKind
		want any
	}{
		{workflow.EngineHuggingface, &Huggingface{}},
		{workflow.EngineVLLM, &VLLM{}},
		{workflow.EngineLlamaCpp, &LlamaCpp{}},
	}
	for _, tc := range tests {
		t.Run(string(tc.kind), func(t *testing.T) {
			e, err := New(node(tc.kind, nil), Deps{})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if reflect.TypeOf(e) != reflect.TypeOf(tc.want) {
				t.Errorf("got %T, want %T", e, tc.want)
			}
			if e.Kind() != tc.kind {
				t.Errorf("Kind() = %q", e.Kind())
			}
		})
	}
}

func TestNewRejectsBadNodes(t *testing.T) {
	tests := []struct {
		name string
		node workflow.NodeSpec
	}{
		{"unknown kind", workflow.NodeSpec{ID: "x", Engine: "tgi", Params: map[string]any{"model_name": "m"}}},
		{"missing model", workflow.NodeSpec{ID: "x", Engine: workflow.EngineVLLM}},
		{"bad fail_fast", node(workflow.EngineVLLM, map[string]any{workflow.ParamFailFast: "maybe"})},
		{"missing prompt file", node(workflow.EngineVLLM, map[string]any{workflow.ParamPromptFile: "nope.txt"})},
		{"bad port", node(workflow.EngineVLLM, map[string]any{ParamPort: "http"})},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.node, Deps{PromptsDir: t.TempDir()})
			if !errors.IsCode(err, errors.ErrCodeConfig) {
				t.Fatalf("expected CONFIG_ERROR, got %v", err)
			}
		})
	}
}

func TestRunInferenceAttachedServer(t *testing.T) {
	srv := newFakeServer(t)
	e, err := New(node(workflow.EngineVLLM, map[string]any{ParamBaseURL: srv.URL}), Deps{})
	if err != nil {
		t.Fatal(err)
	}
	results, err := Run(context.Background(), e, items("hi", "bye", "again"), time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, q := range []string{"hi", "bye", "again"} {
		r := results[i]
		if r.ID != string(rune('a'+i)) || r.Question != q || r.Answer != "answer: "+q || r.Failed() {
			t.Errorf("result %d = %+v", i, r)
		}
	}
}

func TestRunInferencePromptTemplate(t *testing.T) {
	srv := newFakeServer(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "p.txt"), []byte("Case {{.id}}: {{.text}} ({{.lang}})"), 0o644); err != nil {
		t.Fatal(err)
	}
	e, err := New(node(workflow.EngineHuggingface, map[string]any{
		ParamBaseURL: srv.URL, workflow.ParamPromptFile: "p.txt",
	}), Deps{PromptsDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	in := []Item{
		{ID: "1", Question: "hi", Fields: map[string]any{"text": "hi", "lang": "en"}},
		{ID: "2", Question: "bye", Fields: map[string]any{"text": "bye"}},
	}
	results, err := Run(context.Background(), e, in, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Answer != "answer: Case 1: hi (en)" {
		t.Errorf("unexpected answer %q", results[0].Answer)
	}
	if !results[1].Failed() || !strings.Contains(results[1].Error, "lang") {
		t.Errorf("missing template key should fail the record, got %+v", results[1])
	}
}

func TestRunInferenceCollectsItemFailures(t *testing.T) {
	srv := newFakeServer(t)
	srv.fail["bye"] = http.StatusInternalServerError
	e, err := New(node(workflow.EngineLlamaCpp, map[string]any{ParamBaseURL: srv.URL}), Deps{})
	if err != nil {
		t.Fatal(err)
	}
	in := items("hi", "bye", "empty", "ok")
	in = append(in, Item{ID: "up", Question: "q", Err: "INFERENCE_ERROR: upstream"})
	results, err := Run(context.Background(), e, in, time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results[0].Failed() || results[3].Failed() {
		t.Errorf("healthy records failed: %+v", results)
	}
	if !results[1].Failed() || !strings.Contains(results[1].Error, "INFERENCE_ERROR") {
		t.Errorf("expected inference failure marker, got %+v", results[1])
	}
	if !results[2].Failed() || !strings.Contains(results[2].Error, "empty answer") {
		t.Errorf("expected empty answer failure, got %+v", results[2])
	}
	if results[4].Error != "INFERENCE_ERROR: upstream" {
		t.Errorf("upstream failure not passed through: %+v", results[4])
	}
	for _, p := range srv.seen() {
		if p == "q" {
			t.Error("failed upstream record reached the backend")
		}
	}
}

func TestRunInferenceFailFast(t *testing.T) {
	srv := newFakeServer(t)
	srv.fail["bye"] = http.StatusBadGateway
	e, err := New(node(workflow.EngineLlamaCpp, map[string]any{ParamBaseURL: srv.URL, workflow.ParamFailFast: true}), Deps{})
	if err != nil {
		t.Fatal(err)
	}
	_, err = Run(context.Background(), e, items("hi", "bye", "later"), time.Second)
	if !errors.IsCode(err, errors.ErrCodeInference) {
		t.Fatalf("expected INFERENCE_ERROR, got %v", err)
	}
	appErr, _ := errors.AsAppError(err)
	if appErr.Details[errors.DetailCaseID] != "b" {
		t.Errorf("expected case id b in details, got %v", appErr.Details)
	}
}

func TestFailFastDefaultsToEnvironment(t *testing.T) {
	e, err := New(node(workflow.EngineVLLM, nil), Deps{Env: &config.Environment{FailFast: true}})
	if err != nil {
		t.Fatal(err)
	}
	if !e.(*VLLM).FailFast() {
		t.Error("expected environment fail_fast to apply")
	}
	e, _ = New(node(workflow.EngineVLLM, map[string]any{workflow.ParamFailFast: false}), Deps{Env: &config.Environment{FailFast: true}})
	if e.(*VLLM).FailFast() {
		t.Error("node param should override environment")
	}
}

func TestInitializeUnreachableServer(t *testing.T) {
	srv := newFakeServer(t)
	url := srv.URL
	srv.Close()
	e, err := New(node(workflow.EngineVLLM, map[string]any{ParamBaseURL: url, ParamStartupTimeout: "100ms"}), Deps{})
	if err != nil {
		t.Fatal(err)
	}
	err = e.Initialize(context.Background())
	if !errors.IsCode(err, errors.ErrCodeEngineLoad) || !errors.IsRetryable(err) {
		t.Fatalf("expected retryable ENGINE_LOAD_ERROR, got %v", err)
	}
	if err := e.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown after failed Initialize: %v", err)
	}
}

func TestInitializeLaunchesServer(t *testing.T) {
	srv := newFakeServer(t)
	e, err := New(node(workflow.EngineVLLM, map[string]any{
		ParamBaseURL:       srv.URL,
		ParamServerCommand: []any{"sleep", "30"},
	}), Deps{Devices: []int{3}, Env: &config.Environment{ShutdownGrace: time.Second}})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := e.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	v := e.(*VLLM)
	v.mu.Lock()
	h := v.proc
	v.mu.Unlock()
	if h == nil {
		t.Fatal("expected a launched process")
	}
	if err := e.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("server process still running after Shutdown")
	}
	if err := e.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestInitializeServerExits(t *testing.T) {
	srv := newFakeServer(t)
	url := srv.URL
	srv.Close()
	e, err := New(node(workflow.EngineLlamaCpp, map[string]any{
		ParamBaseURL:       url,
		ParamServerCommand: "sh -c exit",
	}), Deps{})
	if err != nil {
		t.Fatal(err)
	}
	err = e.Initialize(context.Background())
	if !errors.IsCode(err, errors.ErrCodeEngineLoad) {
		t.Fatalf("expected ENGINE_LOAD_ERROR, got %v", err)
	}
	if !strings.Contains(errors.Diagnostic(err), "exited") && !strings.Contains(errors.Diagnostic(err), "not ready") {
		t.Errorf("diagnostic should explain the failure: %s", errors.Diagnostic(err))
	}
}

func TestInitializeMissingWeights(t *testing.T) {
	model := filepath.Join(t.TempDir(), "missing-model")
	e, err := New(workflow.NodeSpec{ID: "gen", Engine: workflow.EngineHuggingface,
		Params: map[string]any{workflow.ParamModelName: model}}, Deps{})
	if err != nil {
		t.Fatal(err)
	}
	err = e.Initialize(context.Background())
	if !errors.IsCode(err, errors.ErrCodeEngineLoad) {
		t.Fatalf("expected ENGINE_LOAD_ERROR, got %v", err)
	}
}

func TestRunInferenceBeforeInitialize(t *testing.T) {
	e, err := New(node(workflow.EngineVLLM, nil), Deps{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.RunInference(context.Background(), items("hi")); !errors.IsCode(err, errors.ErrCodeInternal) {
		t.Errorf("expected INTERNAL_ERROR, got %v", err)
	}
}

func TestRunInferenceCancelled(t *testing.T) {
	srv := newFakeServer(t)
	e, err := New(node(workflow.EngineVLLM, map[string]any{ParamBaseURL: srv.URL}), Deps{})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := e.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	_, err = e.RunInference(ctx, items("hi", "bye"))
	if !errors.IsCode(err, errors.ErrCodeCancelled) {
		t.Fatalf("expected CANCELLED, got %v", err)
	}
	if err := e.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestCommandPerVariant(t *testing.T) {
	tests := []struct {
		kind     workflow.EngineKind
		devices  []int
		shard    int
		dp       bool
		wantBin  string
		wantPort string
		wantEnv  []string
	}{
		{workflow.EngineVLLM, []int{6}, 1, true, "vllm", "8001", []string{"VLLM_USE_V1=1", "CUDA_VISIBLE_DEVICES=6"}},
		{workflow.EngineVLLM, nil, 0, false, "vllm", "8000", nil},
		{workflow.EngineHuggingface, []int{2, 3}, 0, false, "text-generation-launcher", "3000", []string{"CUDA_VISIBLE_DEVICES=2"}},
		{workflow.EngineLlamaCpp, nil, 0, false, "llama-server", "8080", nil},
	}
	for _, tc := range tests {
		t.Run(string(tc.kind), func(t *testing.T) {
			e, err := New(node(tc.kind, map[string]any{ParamServerArgs: "--seed 7"}), Deps{
				Devices: tc.devices, Shard: tc.shard,
				Env: &config.Environment{DataParallelEnabled: tc.dp},
			})
			if err != nil {
				t.Fatal(err)
			}
			var s *server
			switch v := e.(type) {
			case *VLLM:
				s = v.server
			case *Huggingface:
				s = v.server
			case *LlamaCpp:
				s = v.server
			}
			cmd := s.command(s.params.Port + s.shard)
			if cmd.Binary != tc.wantBin {
				t.Errorf("binary = %q", cmd.Binary)
			}
			line := cmd.String()
			if !strings.Contains(line, "--port "+tc.wantPort) || !strings.HasSuffix(line, "--seed 7") {
				t.Errorf("unexpected command line %q", line)
			}
			if !reflect.DeepEqual(cmd.Env, tc.wantEnv) {
				t.Errorf("env = %v, want %v", cmd.Env, tc.wantEnv)
			}
		})
	}
}

func TestDecodeParams(t *testing.T) {
	p, err := DecodeParams(map[string]any{
		ParamServerCommand:  "vllm serve /m",
		ParamStartupTimeout: "90s",
		ParamMaxConcurrency: int64(4),
		ParamPort:           "9000",
		"unrelated":         true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(p.ServerCommand, []string{"vllm", "serve", "/m"}) {
		t.Errorf("command = %v", p.ServerCommand)
	}
	if p.StartupTimeout != 90*time.Second || p.MaxConcurrency != 4 || p.Port != 9000 {
		t.Errorf("unexpected params %+v", p)
	}
}
