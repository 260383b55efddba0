// Command raceprophet computes race finish-time predictions offline,
// without the API service or its storage.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "raceprophet",
	Short: "raceprophet predicts race finish times from a baseline effort",
	Long: "raceprophet projects a recent race or hard effort onto other distances\n" +
		"using a training-volume, age, and experience adjusted power law.",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
