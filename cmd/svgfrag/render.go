package main

import (
	"fmt"
	"log"
	"os"

	"github.com/mohammad-safakhou/svgfrag/config"
	"github.com/mohammad-safakhou/svgfrag/internal/document"
	"github.com/mohammad-safakhou/svgfrag/internal/fragcache"
	"github.com/mohammad-safakhou/svgfrag/internal/render"
	"github.com/mohammad-safakhou/svgfrag/session"
	"github.com/spf13/cobra"
)

// renderCMD prints the image tags a document would render to, without
// starting a server. The tokens are only valid for this process.
func renderCMD(cfgPath *string) *cobra.Command {
	var fetchPath string
	var renderCmd = &cobra.Command{
		Use:   "render FILE",
		Short: "Render the svg elements of an XML file as <img> tags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*cfgPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("fetch-path") {
				cfg.Server.FetchPath = fetchPath
				cfg.Server = cfg.Server.Normalize()
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			doc, err := document.Parse(f, args[0])
			if err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}

			logger := log.New(cmd.ErrOrStderr(), "[RENDER] ", log.LstdFlags)
			newCache := render.DocumentIndexCaches(fragcache.WithInitialThreshold(cfg.Cache.InitialThreshold))
			if cfg.Cache.Indexer == config.IndexerWeak {
				newCache = render.WeakIndexCaches(fragcache.WithInitialThreshold(cfg.Cache.InitialThreshold))
			}
			r := render.New(session.NewRegistry(), newCache, render.Config{
				FetchPath:   cfg.Server.FetchPath,
				ImageClass:  cfg.Render.ImageClass,
				PrettyPrint: cfg.Render.PrettyPrint,
				Debug:       cfg.General.Verbose(),
			}, logger)
			return r.RenderDocument(cmd.OutOrStdout(), session.New("cli", doc))
		},
	}
	renderCmd.Flags().StringVar(&fetchPath, "fetch-path", "/svg", "path the fetch endpoint is mounted at")

	return renderCmd
}
