// Package workflow loads and validates workflow sources.
//
// A source is a JSON (or YAML) object naming the workflow, its data, output
// and prompt directories, and an ordered list of nodes. Each node binds one
// engine kind and its params and may depend on other nodes:
//
//	{
//	  "name": "qa",
//	  "data_dir": "/data", "output_dir": "/output", "prompts_dir": "/prompts",
//	  "nodes": [
//	    {"id": "answer", "engine_kind": "vllm",
//	     "params": {"model_name": "/models/gemma", "data_parallel_size": 2}}
//	  ]
//	}
//
// Load rejects malformed sources, duplicate node ids, unknown dependencies
// and cycles with a CONFIG_ERROR. ResolvePaths and CheckNodes operate on the
// loaded Spec without modifying it.
package workflow
