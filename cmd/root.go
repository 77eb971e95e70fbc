package cmd

import (
	"log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/leadrank/internal/scoring"
)

const (
	app = "leadrank"

	geminiKeyEnv = "LEADRANK_GEMINI_KEY_FILE"
	openaiKeyEnv = "LEADRANK_OPENAI_KEY_FILE"
)

type Config struct {
	Persona        string           `mapstructure:"persona"`
	PersonaFile    string           `mapstructure:"persona-file"`
	LeadsFile      string           `mapstructure:"leads-file"`
	EmbeddingsFile string           `mapstructure:"embeddings-file"`
	TopN           int              `mapstructure:"top-n"`
	MinScore       float64          `mapstructure:"min-score"`
	Scoring        *scoring.Weights `mapstructure:"scoring"`
	Embedding      *EmbeddingConfig `mapstructure:"embedding"`
	AI             *AIConfig        `mapstructure:"ai"`
	Optimize       *OptimizeConfig  `mapstructure:"optimize"`
}

type EmbeddingConfig struct {
	Provider          string        `mapstructure:"provider"`
	Model             string        `mapstructure:"model"`
	BatchSize         int           `mapstructure:"batch-size"`
	RequestsPerMinute int           `mapstructure:"requests-per-minute"`
	MaxRetries        int           `mapstructure:"max-retries"`
	CacheFile         string        `mapstructure:"cache-file"`
	Gemini            *GeminiConfig `mapstructure:"gemini"`
	OpenAI            *OpenAIConfig `mapstructure:"openai"`
	Local             *LocalConfig  `mapstructure:"local"`
}

type AIConfig struct {
	Provider string        `mapstructure:"provider"`
	Gemini   *GeminiConfig `mapstructure:"gemini"`
	OpenAI   *OpenAIConfig `mapstructure:"openai"`
}

type GeminiConfig struct {
	APIKeyFile string `mapstructure:"api-key-file"`
	Model      string `mapstructure:"model"`
	MaxRetries int    `mapstructure:"max-retries"`
}

type OpenAIConfig struct {
	APIKeyFile string `mapstructure:"api-key-file"`
	Model      string `mapstructure:"model"`
	BaseURL    string `mapstructure:"base-url"`
}

type LocalConfig struct {
	BaseURL string `mapstructure:"base-url"`
	APIKey  string `mapstructure:"api-key"`
}

type OptimizeConfig struct {
	EvalFile      string `mapstructure:"eval-file"`
	MaxIterations int    `mapstructure:"max-iterations"`
	TopK          int    `mapstructure:"top-k"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "leadrank ranks sales leads against an ideal-customer persona using embedding similarity",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	if err := viper.BindEnv("embedding.gemini.api-key-file", geminiKeyEnv); err != nil {
		log.Fatalf("binding %s environment variable: %v", geminiKeyEnv, err)
	}

	if err := viper.BindEnv("embedding.openai.api-key-file", openaiKeyEnv); err != nil {
		log.Fatalf("binding %s environment variable: %v", openaiKeyEnv, err)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is leadrank.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	// Config is needed only for the rank and optimize commands.
	if rankCmd.CalledAs() == "" && optimizeCmd.CalledAs() == "" {
		return
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app + ".yaml")
	}

	// We can't proceed if the config file parsed with error.
	if err := viper.ReadInConfig(); err != nil {
		log.Fatal(err)
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	return config, nil
}
