package dag

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kbukum/polysome/logger"
)

func TestWithLogging(t *testing.T) {
	tests := []struct {
		name string
		run  func(context.Context, *State) (any, error)
		want []string
	}{
		{
			name: "failed",
			run: func(context.Context, *State) (any, error) {
				return nil, errors.New("engine load failed")
			},
			want: []string{"node started", "node failed", `"node":"n1"`, "engine load failed", `"level":"error"`},
		},
		{
			name: "partial",
			run: func(context.Context, *State) (any, error) {
				return partialOutput(true), nil
			},
			want: []string{"node finished with failed records", `"status":"PARTIAL"`, `"level":"warn"`},
		},
		{
			name: "succeeded",
			run: func(context.Context, *State) (any, error) {
				return "ok", nil
			},
			want: []string{`"message":"node finished"`, `"duration_ms"`},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			logged := WithLogging(newFuncNode("n1", tc.run), logger.NewWriter(&buf, "debug"))
			if logged.Name() != "n1" {
				t.Fatalf("expected name n1, got %q", logged.Name())
			}
			_, _ = logged.Run(context.Background(), NewState())
			out := buf.String()
			for _, want := range tc.want {
				if !strings.Contains(out, want) {
					t.Errorf("expected %q in log output: %s", want, out)
				}
			}
		})
	}
}
