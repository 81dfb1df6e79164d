package main

import (
	"log"

	"github.com/spf13/cobra"
)

func newRootCMD() *cobra.Command {
	var cfgPath string
	var root = &cobra.Command{
		Use:           "svgfrag",
		Short:         "Serve svg elements of XML documents as cacheable image fragments",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/svgfrag.json or ./svgfrag.json)")

	root.AddCommand(serveCMD(&cfgPath), renderCMD(&cfgPath))
	return root
}

func main() {
	if err := newRootCMD().Execute(); err != nil {
		log.Fatalf("svgfrag: %v", err)
	}
}
