package worker

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
)

// LocalModel serves inference on the local lightweight model. Output is
// deterministic for a given prompt.
type LocalModel struct{}

// Infer produces a short deterministic completion
func (LocalModel) Infer(ctx context.Context, prompt, model string) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"model":      "local",
		"completion": truncateWords(prompt, 12),
		"digest":     promptDigest(prompt),
	}, nil
}

// ExternalModel serves inference on the external provider. Like the local
// model it is deterministic, standing in for the real API.
type ExternalModel struct{}

// Infer produces a deterministic completion tagged with the target model
func (ExternalModel) Infer(ctx context.Context, prompt, model string) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if model == "" || model == "auto" {
		model = "external"
	}
	return map[string]interface{}{
		"model":      model,
		"completion": fmt.Sprintf("response to %q", truncateWords(prompt, 20)),
		"digest":     promptDigest(prompt),
	}, nil
}

func truncateWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ") + "..."
}

func promptDigest(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return fmt.Sprintf("%x", sum[:8])
}
