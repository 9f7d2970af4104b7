// Package config builds the immutable Environment the engine runs under.
//
// It uses Viper to merge, in increasing precedence: built-in defaults, an
// optional YAML file, an optional .env file, environment variables and
// command-line flags. The legacy variable names of the container entrypoints
// (MODEL_PATH, DATA_PATH, OUTPUT_PATH, PROMPTS_PATH, CUDA_VISIBLE_DEVICES,
// VLLM_USE_V1) are bound explicitly next to the POLYSOME_ prefixed ones.
//
// # Usage
//
//	env, err := config.LoadEnvironment(config.WithFlags(fs))
//
// Nothing reads the process environment after LoadEnvironment returns; the
// returned value is passed by reference to every component.
package config
