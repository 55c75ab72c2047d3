package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/volcanion-company/volcanion-load-engine/internal/protocol"
)

var detectCmd = &cobra.Command{
	Use:   "detect <url>",
	Short: "Print the protocol a URL routes to",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		fmt.Println(protocol.Detect(args[0]))
	},
}

func init() {
	rootCmd.AddCommand(detectCmd)
}
