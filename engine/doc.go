// Package engine runs inference for one workflow node.
//
// Every backend variant shares the same lifecycle: Initialize acquires the
// model (optionally launching a serving process pinned to the node's devices
// and waiting for it to answer), RunInference turns an ordered batch of items
// into an ordered batch of results, and Shutdown releases whatever Initialize
// acquired. Run wraps the three so Shutdown happens on every exit path.
//
// The variant set is closed: Huggingface, VLLM and LlamaCpp are the only
// implementations, selected once by New from the node's engine kind.
//
//	eng, err := engine.New(node, engine.Deps{Env: env, PromptsDir: dir, Log: log})
//	if err != nil {
//		return err
//	}
//	results, err := engine.Run(ctx, eng, items)
package engine
