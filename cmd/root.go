package cmd

import (
	"log"

	"github.com/antonk9218/fl-bidder/internal/freelancer"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	app = "fl-bidder"
)

type Config struct {
	DataDir   string                   `mapstructure:"data-dir"`
	TokenFile string                   `mapstructure:"token-file"`
	UserAgent string                   `mapstructure:"user-agent"`
	Search    *freelancer.SearchParams `mapstructure:"search"`
	Scoring   *ScoringConfig           `mapstructure:"scoring"`
	LLM       *LLMConfig               `mapstructure:"llm"`
	Proposal  *ProposalConfig          `mapstructure:"proposal"`
	Bidding   *BiddingConfig           `mapstructure:"bidding"`
	Watch     *WatchConfig             `mapstructure:"watch"`
}

type ScoringConfig struct {
	Preset   string   `mapstructure:"preset"`
	Skills   []string `mapstructure:"skills"`
	MinScore float64  `mapstructure:"min-score"`
}

type LLMConfig struct {
	Strategy        string          `mapstructure:"strategy"`
	CacheTTLMinutes int             `mapstructure:"cache-ttl-minutes"`
	Gemini          *GeminiConfig   `mapstructure:"gemini"`
	OpenAI          []*OpenAIConfig `mapstructure:"openai"`
}

type GeminiConfig struct {
	APIKeyFile   string `mapstructure:"api-key-file"`
	Model        string `mapstructure:"model"`
	MaxRetries   int    `mapstructure:"max-retries"`
	MaxLogLength int    `mapstructure:"max-log-length"`
}

// OpenAIConfig describes one OpenAI-compatible chat-completions endpoint.
// Several can be configured; Name keeps them apart in logs.
type OpenAIConfig struct {
	Name        string  `mapstructure:"name"`
	APIKeyFile  string  `mapstructure:"api-key-file"`
	BaseURL     string  `mapstructure:"base-url"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
}

type ProposalConfig struct {
	MaxRetries       int   `mapstructure:"max-retries"`
	MinLength        int   `mapstructure:"min-length"`
	MaxLength        int   `mapstructure:"max-length"`
	AllowFlawedFinal *bool `mapstructure:"allow-flawed-final"`
}

type BiddingConfig struct {
	Enabled            bool    `mapstructure:"enabled"`
	MaxBids            int     `mapstructure:"max-bids"`
	FixedOnly          bool    `mapstructure:"fixed-only"`
	MinBudgetUSD       float64 `mapstructure:"min-budget-usd"`
	DisableRemoteCheck bool    `mapstructure:"disable-remote-check"`
	DefaultPeriod      int     `mapstructure:"default-period"`
}

type WatchConfig struct {
	Every string `mapstructure:"every"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "fl-bidder scores freelance-marketplace projects and bids on the good ones",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	if err := viper.BindEnv("token-file", "FL_TOKEN_FILE"); err != nil {
		log.Fatalf("binding FL_TOKEN_FILE environment variable: %v", err)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is fl-bidder.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	// Config is needed only for the commands that touch the marketplace.
	if runCmd.CalledAs() == "" && scoreCmd.CalledAs() == "" && bidCmd.CalledAs() == "" && watchCmd.CalledAs() == "" {
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
