// Package process launches and supervises long-running inference servers.
//
// Each server runs in its own process group so Stop can take down the whole
// tree: SIGTERM first, SIGKILL after the grace period. WithDevices pins a
// child to specific GPUs through CUDA_VISIBLE_DEVICES.
//
//	h, err := process.Start(ctx, process.Command{
//	    Binary: "vllm",
//	    Args:   []string{"serve", model, "--port", "8001"},
//	}.WithDevices(6))
//	defer h.Stop(context.WithoutCancel(ctx))
package process
