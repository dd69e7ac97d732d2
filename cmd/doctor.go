package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/beagleboard/beaglemind/internal/config"
	"github.com/beagleboard/beaglemind/internal/infrastructure/llm"
	"github.com/beagleboard/beaglemind/internal/infrastructure/ollama"
	"github.com/beagleboard/beaglemind/internal/services/retrieval"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, credentials and the knowledge base",
	RunE:  runDoctor,
}

type checkLevel int

const (
	checkOK checkLevel = iota
	checkWarn
	checkFail
)

type checkReport struct {
	out      io.Writer
	failures int
}

func (r *checkReport) add(level checkLevel, name, detail string) {
	var mark string
	switch level {
	case checkOK:
		mark = okStyle.Render("ok  ")
	case checkWarn:
		mark = warningStyle.Render("warn")
	default:
		mark = errorStyle.Render("fail")
		r.failures++
	}
	fmt.Fprintf(r.out, "[%s] %-18s %s\n", mark, name, infoStyle.Render(detail))
}

func runDoctor(cmd *cobra.Command, args []string) error {
	report := &checkReport{out: os.Stdout}

	resolver, err := newResolver()
	if err != nil {
		report.add(checkFail, "config", err.Error())
		return errors.New("doctor found problems")
	}
	if resolver.FileLoaded() {
		report.add(checkOK, "config file", resolver.ConfigPath())
	} else {
		report.add(checkWarn, "config file", resolver.ConfigPath()+" not found, using defaults")
	}

	cfg, err := resolver.Load(config.Overrides{})
	if err != nil {
		report.add(checkFail, "config", err.Error())
		return errors.New("doctor found problems")
	}
	report.add(checkOK, "backend", fmt.Sprintf("%s / %s, temperature %.2f", cfg.Backend, cfg.Model, cfg.Temperature))

	secrets := resolver.Secrets()
	for _, p := range llm.Providers() {
		if !p.Remote() {
			continue
		}
		c := cfg
		c.Backend = p
		key := c.APIKey()
		level := checkOK
		if key == "" {
			level = checkWarn
			if p == cfg.Backend {
				level = checkFail
			}
		}
		report.add(level, p.KeyEnv(), config.Masked(key))
	}

	store, err := retrieval.OpenStore(cfg.StoreOptions())
	switch remote, isRemote := store.(*retrieval.RemoteStore); {
	case err != nil:
		report.add(checkFail, "store", err.Error())
	case isRemote:
		if err := remote.Health(cmd.Context()); err != nil {
			report.add(checkFail, "knowledge base", err.Error())
		} else {
			report.add(checkOK, "knowledge base", fmt.Sprintf("%s, collection %q, rerank %t", remote.BaseURL(), cfg.Collection, cfg.Rerank))
		}
	default:
		checkLocalStore(report, cfg, store)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
	defer cancel()
	tags, err := ollama.NewService(secrets.OllamaHost).Tags(ctx)
	level := checkOK
	detail := fmt.Sprintf("%s, %d models pulled", llm.NormalizeHost(secrets.OllamaHost), len(tags))
	if err != nil {
		level = checkWarn
		if cfg.Backend == llm.Ollama {
			level = checkFail
		}
		detail = err.Error()
	}
	report.add(level, "ollama", detail)

	if report.failures > 0 {
		return fmt.Errorf("doctor found %d problem(s)", report.failures)
	}
	return nil
}

func checkLocalStore(report *checkReport, cfg config.EffectiveConfig, store retrieval.Store) {
	where := "in memory"
	if cfg.IndexPath != "" {
		where = cfg.IndexPath
	}
	report.add(checkOK, "store", fmt.Sprintf("%s, %s similarity, %s embedder", where, cfg.Similarity, cfg.Embedder))

	n, err := store.Count(cfg.Collection)
	switch {
	case errors.Is(err, retrieval.ErrCollectionNotFound):
		report.add(checkWarn, "collection", fmt.Sprintf("%q does not exist yet, run beaglemind index", cfg.Collection))
	case err != nil:
		report.add(checkFail, "collection", err.Error())
	case n == 0:
		report.add(checkWarn, "collection", fmt.Sprintf("%q is empty", cfg.Collection))
	default:
		report.add(checkOK, "collection", fmt.Sprintf("%q holds %d chunks", cfg.Collection, n))
	}
}
