package main

import (
	"fmt"

	mcobra "github.com/muesli/mango-cobra"
	"github.com/muesli/roff"
	"github.com/spf13/cobra"
)

var manCmd = &cobra.Command{
	Use:                   "man",
	Short:                 "Generates manpages",
	SilenceUsage:          true,
	DisableFlagsInUseLine: true,
	Hidden:                true,
	Args:                  cobra.NoArgs,
	PersistentPreRunE:     func(*cobra.Command, []string) error { return nil },
	RunE: func(*cobra.Command, []string) error {
		manPage, err := mcobra.NewManPage(1, rootCmd)
		if err != nil {
			return err
		}

		manPage = manPage.WithSection("Environment",
			"ELEVENLABS_API_KEY  key for speech synthesis\n"+
				"OPENAI_API_KEY      key for the chat model\n"+
				"OPENAI_BASE_URL     alternative OpenAI-compatible endpoint\n"+
				"NOVERA_CONFIG_HOME  directory holding novera.yml\n"+
				"NOVERA_*            any config key, e.g. NOVERA_PLAYBACK_LOOKAHEAD")
		fmt.Println(manPage.Build(roff.NewDocument()))
		return nil
	},
}
