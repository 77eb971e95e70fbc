package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/leadrank/internal/embedding"
	"github.com/spigell/leadrank/internal/lead"
	"github.com/spigell/leadrank/internal/logger"
	"github.com/spigell/leadrank/internal/persona"
	"github.com/spigell/leadrank/internal/scoring"
)

const (
	PromptShowResults     = "Show ranked results"
	PromptReportByCompany = "Report by company"
	PromptResultsToFile   = "Dump results to file"
	PromptExit            = "Exit"
)

var errExit = errors.New("exit requested")

var rankPrompt = promptui.Select{
	Label: "Next?",
	Items: []string{PromptShowResults, PromptReportByCompany, PromptResultsToFile, PromptExit},
}

var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Rank leads against the configured persona",
	Run: func(cmd *cobra.Command, _ []string) {
		rank(cmd)
	},
}

func init() {
	rootCmd.AddCommand(rankCmd)

	rankCmd.Flags().BoolP("auto-approve", "y", false, "print ranked results and exit without prompting")
	rankCmd.Flags().StringP("leads-file", "l", "", "a json file with leads to rank. Overrides the config value.")

	viper.BindPFlag("leads-file", rankCmd.Flags().Lookup("leads-file"))
}

// rank is the main scoring command for the cli.
func rank(cmd *cobra.Command) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the leadrank", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	if config == nil {
		logger.Fatal("config is required")
	}

	profile, err := loadPersona(config)
	if err != nil {
		logger.Fatal("loading persona",
			zap.Error(err),
			zap.String("hint", "set the 'persona' or 'persona-file' key in the configuration file"),
		)
	}

	leadsFile := viper.GetString("leads-file")
	if leadsFile == "" {
		logger.Fatal("leads file is required under leads-file to rank anything")
	}

	leads, err := lead.FromFile(leadsFile)
	if err != nil {
		logger.Fatal("loading leads", zap.Error(err), zap.String("filename", leadsFile))
	}

	logger.Info("loading leads", zap.Int("count", leads.Len()))

	if leads.Len() == 0 {
		logger.Info("exiting", zap.String("reason", "no leads to rank"))
		return
	}

	supplied, err := loadEmbeddings(config.EmbeddingsFile, leads.Len())
	if err != nil {
		logger.Fatal("loading precomputed embeddings", zap.Error(err))
	}

	embedder, err := newEmbedder(ctx, config.Embedding, logger)
	if err != nil {
		logger.Fatal("building embedding provider", zap.Error(err))
	}

	engine := scoring.NewEngine(embedder, scoring.Config{
		Weights:  resolveWeights(config.Scoring),
		TopN:     config.TopN,
		MinScore: config.MinScore,
	}, logger)

	results, err := engine.Score(ctx, profile, leads.Items, supplied)
	if err != nil {
		logger.Fatal("scoring leads", zap.Error(err))
	}

	if len(results) == 0 {
		logger.Info("exiting", zap.String("reason", "no leads passed the score floor"))
		return
	}

	action := PromptShowResults
	for {
		var err error
		if cmd.Flag("auto-approve").Value.String() == "false" {
			_, action, err = rankPrompt.Run()
			if err != nil {
				logger.Fatal("exiting", zap.Error(err))
			}
		}

		logger.Info("current list of ranked leads", zap.Int("count", len(results)))

		if err := handleRankAction(action, logger, results); err != nil {
			if errors.Is(err, errExit) {
				return
			}
			logger.Fatal("exiting", zap.Error(err))
		}

		if cmd.Flag("auto-approve").Value.String() == "true" {
			return
		}
	}
}

func handleRankAction(action string, logger *zap.Logger, results []scoring.RankedResult) error {
	switch action {
	case PromptShowResults:
		pretty, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return fmt.Errorf("render results: %w", err)
		}
		fmt.Println(string(pretty))
		return nil
	case PromptReportByCompany:
		ranked := &lead.Leads{}
		for _, result := range results {
			ranked.Items = append(ranked.Items, result.Lead)
		}
		pretty, _ := json.MarshalIndent(ranked.ReportByCompany(), "", "  ")
		logger.Info(string(pretty), zap.Int("leads count", len(results)))
		return nil
	case PromptResultsToFile:
		filename, err := dumpResults(results)
		if err != nil {
			return fmt.Errorf("dump results to file: %w", err)
		}
		logger.Info("dumping results to file", zap.String("filename", filename))
		return nil
	case PromptExit:
		logger.Info("exiting", zap.String("reason", "got exit from prompt"))
		return errExit
	default:
		return fmt.Errorf("invalid action: %s", action)
	}
}

// loadPersona resolves the persona from the inline key or a file, inline
// taking precedence.
func loadPersona(config *Config) (persona.Persona, error) {
	raw, err := loadPersonaText(config)
	if err != nil {
		return persona.Persona{}, err
	}

	return persona.Parse(raw), nil
}

func loadPersonaText(config *Config) (string, error) {
	raw := strings.TrimSpace(config.Persona)

	if raw == "" && config.PersonaFile != "" {
		data, err := os.ReadFile(config.PersonaFile)
		if err != nil {
			return "", fmt.Errorf("reading persona file %q: %w", config.PersonaFile, err)
		}
		raw = string(data)
	}

	if strings.TrimSpace(raw) == "" {
		return "", errors.New("persona is not configured")
	}

	return raw, nil
}

// loadEmbeddings reads optional precomputed lead vectors. An empty path means
// no vectors were supplied and the engine embeds the leads itself.
func loadEmbeddings(path string, want int) ([]embedding.Vector, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading embeddings file %q: %w", path, err)
	}

	var vectors []embedding.Vector
	if err := json.Unmarshal(data, &vectors); err != nil {
		return nil, fmt.Errorf("parsing embeddings file %q: %w", path, err)
	}

	if len(vectors) != want {
		return nil, fmt.Errorf("embeddings file %q holds %d vectors for %d leads", path, len(vectors), want)
	}

	return vectors, nil
}

func dumpResults(results []scoring.RankedResult) (string, error) {
	file, err := os.CreateTemp("", app+"-results-*.json")
	if err != nil {
		return "", err
	}
	defer file.Close()

	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", err
	}

	if _, err := file.Write(data); err != nil {
		return "", err
	}

	return file.Name(), nil
}

// resolveWeights fills normalization bounds from the defaults when the config
// only overrides the combination weights.
func resolveWeights(configured *scoring.Weights) scoring.Weights {
	weights := scoring.DefaultWeights()
	if configured == nil {
		return weights
	}

	if configured.Avoid != 0 {
		weights.Avoid = configured.Avoid
	}
	if configured.Prefer != 0 {
		weights.Prefer = configured.Prefer
	}
	if configured.RawMin != 0 {
		weights.RawMin = configured.RawMin
	}
	if configured.RawMax != 0 {
		weights.RawMax = configured.RawMax
	}

	return weights
}
