package main

import (
	"os"

	"github.com/beagleboard/beaglemind/internal/config"
	"github.com/beagleboard/beaglemind/pkg/logger"
	"github.com/spf13/cobra"
)

var (
	// configPath overrides ~/.beaglemind_config.json
	configPath string
	// envFile is loaded into the environment before credentials are read
	envFile string
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "beaglemind",
	Short: "Answers BeagleBoard questions from the project knowledge base",
	Long: `BeagleMind answers questions about BeagleBoard hardware and software.
Questions are matched against an indexed knowledge base of docs, forum and
Discord threads, and answered by a Groq, OpenAI or local Ollama model.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Init(os.Stderr)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/"+config.DefaultConfigFile+")")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with API keys")
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(listModelsCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(doctorCmd)
}

func newResolver() (*config.Resolver, error) {
	return config.NewResolver(config.ResolverOptions{
		ConfigPath: configPath,
		EnvFile:    envFile,
	})
}
