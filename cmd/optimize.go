package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/leadrank/internal/embedding"
	"github.com/spigell/leadrank/internal/embedding/cache"
	"github.com/spigell/leadrank/internal/lead"
	"github.com/spigell/leadrank/internal/logger"
	"github.com/spigell/leadrank/internal/optimizer"
	"github.com/spigell/leadrank/internal/scoring"
)

const defaultCacheFile = "leadrank-embeddings.db"

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Search for a persona wording that better matches the gold ranking",
	Run: func(cmd *cobra.Command, _ []string) {
		optimize(cmd)
	},
}

func init() {
	rootCmd.AddCommand(optimizeCmd)

	optimizeCmd.Flags().IntP("max-iterations", "i", 0, "iteration budget for the run. Overrides the config value.")

	viper.BindPFlag("optimize.max-iterations", optimizeCmd.Flags().Lookup("max-iterations"))
}

// optimize runs the evaluate/propose loop against the evaluation set.
func optimize(_ *cobra.Command) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the leadrank optimization", zap.String("version", version))

	if config == nil {
		logger.Fatal("config is required")
	}

	if config.Optimize == nil || config.Optimize.EvalFile == "" {
		logger.Fatal("evaluation set is required under optimize.eval-file to optimize anything")
	}

	personaText, err := loadPersonaText(config)
	if err != nil {
		logger.Fatal("loading persona",
			zap.Error(err),
			zap.String("hint", "set the 'persona' or 'persona-file' key in the configuration file"),
		)
	}

	evalSet, err := lead.LoadEvalSet(config.Optimize.EvalFile)
	if err != nil {
		logger.Fatal("loading evaluation set", zap.Error(err), zap.String("filename", config.Optimize.EvalFile))
	}

	logger.Info("loading evaluation set", zap.Int("count", len(evalSet)))

	embedder, err := newEmbedder(ctx, config.Embedding, logger)
	if err != nil {
		logger.Fatal("building embedding provider", zap.Error(err))
	}

	vectors, err := evalEmbeddings(ctx, config.Embedding, embedder, evalSet, logger)
	if err != nil {
		logger.Fatal("embedding evaluation set", zap.Error(err))
	}

	proposer, err := newProposer(ctx, config.AI, logger)
	if err != nil {
		logger.Fatal("building ai proposer", zap.Error(err))
	}

	engine := scoring.NewEngine(embedder, scoring.Config{
		Weights: resolveWeights(config.Scoring),
	}, logger)

	opt := optimizer.New(engine, proposer, optimizer.Config{
		MaxIterations: config.Optimize.MaxIterations,
		TopK:          config.Optimize.TopK,
	}, logger)

	result, err := opt.Run(ctx, personaText, evalSet, vectors)
	if err != nil {
		logger.Fatal("optimization failed", zap.Error(err))
	}

	logger.Info("optimization finished",
		zap.String("run_id", result.RunID),
		zap.Float64("best_score", result.BestScore),
		zap.Int("iterations", result.Iterations),
	)

	history, _ := json.MarshalIndent(result.History, "", "  ")
	logger.Debug(fmt.Sprintf("run history: \n %s", history))

	fmt.Println(result.BestPersona)
}

// evalEmbeddings returns one vector per evaluation lead, reading from the
// sqlite cache and embedding only the identities missing from it. The
// evaluation set is small and stable, so warmed vectors survive across runs.
func evalEmbeddings(ctx context.Context, cfg *EmbeddingConfig, embedder *embedding.Gateway, evalSet []lead.EvalLead, logger *zap.Logger) ([]embedding.Vector, error) {
	cacheFile := defaultCacheFile
	model := ""
	if cfg != nil {
		if cfg.CacheFile != "" {
			cacheFile = cfg.CacheFile
		}
		model = cfg.Model
	}
	if model == "" {
		model = embedder.Name()
	}

	store, err := cache.Open(cacheFile, model)
	if err != nil {
		return nil, fmt.Errorf("opening embedding cache %q: %w", cacheFile, err)
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("preparing embedding cache: %w", err)
	}

	vectors := make([]embedding.Vector, len(evalSet))
	missing := make([]int, 0, len(evalSet))

	for i, item := range evalSet {
		vector, ok, err := store.Get(ctx, item.Lead.Identity())
		if err != nil {
			return nil, fmt.Errorf("reading embedding cache: %w", err)
		}
		if !ok {
			missing = append(missing, i)
			continue
		}
		vectors[i] = vector
	}

	logger.Info("warming embedding cache",
		zap.Int("cached", len(evalSet)-len(missing)),
		zap.Int("missing", len(missing)),
	)

	if len(missing) == 0 {
		return vectors, nil
	}

	texts := make([]string, len(missing))
	for i, idx := range missing {
		texts[i] = evalSet[idx].Lead.Text()
	}

	embedded, err := embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}

	for i, idx := range missing {
		vectors[idx] = embedded[i]

		if err := store.Put(ctx, evalSet[idx].Lead.Identity(), embedded[i]); err != nil {
			return nil, fmt.Errorf("writing embedding cache: %w", err)
		}
	}

	return vectors, nil
}
