package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/yourorg/validator-score-ea/internal/mapper"
	"github.com/yourorg/validator-score-ea/internal/model"
)

// FileFetcher reads RPC results saved to disk. APYPath is optional; without
// it every APY is unknown.
type FileFetcher struct {
	StatePath string
	APYPath   string
}

// Snapshot decodes the saved results and maps them.
func (f FileFetcher) Snapshot(ctx context.Context) (model.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return model.Snapshot{}, err
	}

	var state mapper.SystemStateSummary
	if err := readJSON(f.StatePath, &state); err != nil {
		return model.Snapshot{}, err
	}

	var apys mapper.ValidatorsApy
	if f.APYPath != "" {
		if err := readJSON(f.APYPath, &apys); err != nil {
			return model.Snapshot{}, err
		}
	}

	return mapper.Snapshot(state, apys)
}

// readJSON accepts either a bare result or a full JSON-RPC response envelope.
func readJSON(path string, out interface{}) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var envelope rpcResponse
	if err := json.Unmarshal(b, &envelope); err == nil && len(envelope.Result) > 0 {
		b = envelope.Result
	}

	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}
