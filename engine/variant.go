package engine

import (
	"strconv"

	"github.com/kbukum/polysome/llm/openai"
	"github.com/kbukum/polysome/workflow"
)

// variant holds what differs between backends: how the server is launched
// and how hard it may be driven.
type variant struct {
	kind        workflow.EngineKind
	transport   string
	port        int
	concurrency int
	// maxDevices caps how many devices one instance is pinned to. Zero is no cap.
	maxDevices int
	command    func(model string, port int) []string
	env        func(s *server) []string
}

// huggingfaceVariant serves a transformers model through text-generation-inference,
// one request at a time on a single device.
var huggingfaceVariant = variant{
	kind:        workflow.EngineHuggingface,
	transport:   openai.ProviderName,
	port:        3000,
	concurrency: 1,
	maxDevices:  1,
	command: func(model string, port int) []string {
		return []string{"text-generation-launcher", "--model-id", model,
			"--hostname", "127.0.0.1", "--port", strconv.Itoa(port)}
	},
}

// vllmVariant is the high-throughput server. It is the only variant that
// takes part in data-parallel sharding.
var vllmVariant = variant{
	kind:        workflow.EngineVLLM,
	transport:   openai.ProviderName,
	port:        8000,
	concurrency: 8,
	command: func(model string, port int) []string {
		return []string{"vllm", "serve", model,
			"--host", "127.0.0.1", "--port", strconv.Itoa(port)}
	},
	env: func(s *server) []string {
		if s.env.DataParallelEnabled {
			return []string{"VLLM_USE_V1=1"}
		}
		return nil
	},
}

// llamaCppVariant runs a GGUF model with llama.cpp's server. It has no
// device-parallel mode.
var llamaCppVariant = variant{
	kind:        workflow.EngineLlamaCpp,
	transport:   openai.ProviderName,
	port:        8080,
	concurrency: 1,
	maxDevices:  1,
	command: func(model string, port int) []string {
		return []string{"llama-server", "-m", model,
			"--host", "127.0.0.1", "--port", strconv.Itoa(port)}
	},
}

// Huggingface is the transformer-library backend.
type Huggingface struct{ *server }

// VLLM is the high-throughput serving backend.
type VLLM struct{ *server }

// LlamaCpp is the native-inference backend.
type LlamaCpp struct{ *server }

func (*Huggingface) sealed() {}
func (*VLLM) sealed()        {}
func (*LlamaCpp) sealed()    {}
