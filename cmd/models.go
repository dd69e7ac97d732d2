package main

import (
	"fmt"
	"os"

	"github.com/beagleboard/beaglemind/internal/config"
	"github.com/beagleboard/beaglemind/internal/infrastructure/llm"
	"github.com/beagleboard/beaglemind/internal/services/chat"
	"github.com/spf13/cobra"
)

var (
	listBackend string
	listRemote  bool
)

var listModelsCmd = &cobra.Command{
	Use:   "list-models",
	Short: "List the models available for each backend",
	Long: `List the models BeagleMind offers for each backend.

With --remote the provider is asked for the models it actually serves,
which needs the backend's API key (or a running Ollama).

Examples:
  beaglemind list-models
  beaglemind list-models -b ollama --remote`,
	RunE: runListModels,
}

func init() {
	listModelsCmd.Flags().StringVarP(&listBackend, "backend", "b", "", "only list this backend")
	listModelsCmd.Flags().BoolVar(&listRemote, "remote", false, "ask the provider for its model list")
}

func runListModels(cmd *cobra.Command, args []string) error {
	providers := llm.Providers()
	if listBackend != "" {
		p, err := llm.ParseProvider(listBackend)
		if err != nil {
			return err
		}
		providers = []llm.Provider{p}
	}

	var (
		base config.EffectiveConfig
		err  error
	)
	if listRemote {
		resolver, rerr := newResolver()
		if rerr != nil {
			return rerr
		}
		if base, err = resolver.Load(config.Overrides{}); err != nil {
			return err
		}
	}

	for _, p := range providers {
		fmt.Println(bannerStyle.Render(p.String()))

		names := llm.Catalogue(p)
		if listRemote {
			cfg := base
			cfg.Backend = p
			remote, err := remoteModels(cmd, cfg)
			if err != nil {
				printError(os.Stderr, err)
				continue
			}
			names = remote
		}

		for i, name := range names {
			marker := "  "
			if !listRemote && i == 0 {
				marker = okStyle.Render("* ")
			}
			fmt.Println("  " + marker + name)
		}
	}
	if !listRemote {
		fmt.Println(infoStyle.Render("* default model"))
	}
	return nil
}

func remoteModels(cmd *cobra.Command, cfg config.EffectiveConfig) ([]string, error) {
	if err := cfg.CheckCredentials(); err != nil {
		return nil, err
	}
	backend, err := chat.DefaultBackends(cfg)
	if err != nil {
		return nil, err
	}
	return backend.ListModels(cmd.Context())
}
