// Package llm defines the chat-completion model the inference engines speak
// and a registry of HTTP transports for it.
//
// Transports live in sub-packages and register themselves on import:
//
//	import _ "github.com/kbukum/polysome/llm/openai" // vLLM, llama.cpp server, TGI
//	import _ "github.com/kbukum/polysome/llm/ollama"
//
//	p, err := llm.New("openai", map[string]any{"base_url": "http://127.0.0.1:8000", "model": "qwen"})
//	resp, err := llm.AsRequestResponse(p).Execute(ctx, llm.CompletionRequest{
//		Messages: []llm.Message{{Role: "user", Content: "Hello"}},
//	})
package llm
