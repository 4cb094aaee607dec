// Package demo provides example tools served by cmd/gateway and cmd/worker.
package demo

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"calcjob/internal/artifact"
	"calcjob/internal/executor"
	"calcjob/internal/plugin"
	"calcjob/internal/tool"
)

// Register adds the demo tools to r.
func Register(r *tool.Registry) error {
	for _, t := range []*tool.Tool{WordCount(), DPTrain()} {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding only the demo tools.
func NewRegistry() (*tool.Registry, error) {
	r, err := tool.NewRegistry()
	if err != nil {
		return nil, err
	}
	return r, Register(r)
}

// WordCount counts words in a text artifact and writes the per-word counts
// as a JSON artifact.
func WordCount() *tool.Tool {
	return &tool.Tool{
		Name:        "run_word_count",
		Description: "Count the words of a text file. Returns the total and a JSON file with per-word counts.",
		Params: []tool.Param{
			{Name: "text", Kind: tool.KindArtifact, Description: "The text file to count."},
			{Name: "lowercase", Type: "boolean", Default: true, Description: "Fold words to lower case before counting."},
			{Name: "top", Type: "integer", Default: 10.0, Description: "Number of most frequent words to return inline."},
		},
		Fn: runWordCount,
	}
}

func runWordCount(ctx context.Context, env *executor.Env, args tool.Args) (map[string]any, error) {
	p, _ := args.Path("text")
	lower, _ := args.Bool("lowercase")
	top, _ := args.Int("top")

	f, err := os.Open(string(p))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	counts := map[string]int{}
	total := 0
	sc := bufio.NewScanner(f)
	sc.Split(bufio.ScanWords)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		w := strings.Trim(sc.Text(), ".,;:!?\"'()[]{}")
		if w == "" {
			continue
		}
		if lower {
			w = strings.ToLower(w)
		}
		counts[w]++
		total++
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	raw, err := json.MarshalIndent(counts, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(env.WorkDir, "counts.json"), raw, 0o644); err != nil {
		return nil, err
	}

	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	if top >= 0 && top < len(words) {
		words = words[:top]
	}
	return map[string]any{
		"total":  total,
		"top":    words,
		"counts": artifact.Path("counts.json"),
	}, nil
}

// DPTrain mocks a Deep Potential training run: it waits, then writes a
// model file, a log directory and a learning curve.
func DPTrain() *tool.Tool {
	return &tool.Tool{
		Name:        "run_dp_train",
		Description: "Train a Deep Potential (DP) model on user-provided training data.",
		Params: []tool.Param{
			{Name: "training_data", Kind: tool.KindArtifact, Description: "The training data in DeePMD npy format."},
			{Name: "validation_data", Kind: tool.KindOptionalArtifact, Description: "The validation data in DeePMD npy format."},
			{Name: "model_type", Type: "string", Default: "dpa3", Enum: []any{"se_e2_a", "dpa2", "dpa3"}},
			{Name: "rcut", Type: "number", Default: 9.0, Description: "Cutoff radius for neighbor searching."},
			{Name: "rcut_smth", Type: "number", Default: 8.0, Description: "Smooth cutoff radius."},
			{Name: "sel", Type: "integer", Default: 120.0, Description: "Maximum number of neighbors in the cutoff radius."},
			{Name: "numb_steps", Type: "integer", Default: 1000000.0, Description: "Number of training steps."},
			{Name: "decay_steps", Type: "integer", Default: 5000.0, Description: "Steps between learning rate decays."},
			{Name: "start_lr", Type: "number", Default: 0.001, Description: "Learning rate at the start of training."},
			{Name: "duration", Type: "number", Default: 4.0, Description: "Seconds the mock training takes."},
		},
		Preprocess: dispatcherDefaults,
		Fn:         runDPTrain,
	}
}

const trainPool = "train"

// dispatcherDefaults routes dispatcher submissions without a pool to the
// training pool.
func dispatcherDefaults(_ context.Context, executorCfg, storageCfg plugin.Config, args tool.Args) (plugin.Config, plugin.Config, tool.Args, error) {
	if executorCfg.Type() == executor.TypeDispatcher {
		if pool, _ := executorCfg["pool"].(string); strings.TrimSpace(pool) == "" {
			executorCfg = executorCfg.Clone()
			executorCfg["pool"] = trainPool
		}
	}
	return executorCfg, storageCfg, args, nil
}

func runDPTrain(ctx context.Context, env *executor.Env, args tool.Args) (map[string]any, error) {
	if _, err := os.Stat(args.String("training_data")); err != nil {
		return nil, fmt.Errorf("training data: %w", err)
	}
	seconds, _ := args.Float("duration")
	timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	steps, _ := args.Int("numb_steps")
	files := map[string]string{
		"model.pt":     "This is model.",
		"logs/log.txt": fmt.Sprintf("model_type=%s numb_steps=%d\n", args.String("model_type"), steps),
		"lcurve.out":   "This is lcurve.",
	}
	for name, content := range files {
		dest := filepath.Join(env.WorkDir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(dest, []byte(content), 0o644); err != nil {
			return nil, err
		}
	}
	return map[string]any{
		"model":  artifact.Path("model.pt"),
		"log":    artifact.Path("logs"),
		"lcurve": artifact.Path("lcurve.out"),
	}, nil
}
