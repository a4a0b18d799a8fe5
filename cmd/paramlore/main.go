// Command paramlore discovers audio plugin parameters and maintains the
// pattern knowledge base.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
