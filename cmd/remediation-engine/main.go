package main

import (
	"os"

	"github.com/vulnzero/remediation-engine/pkg/logger"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		logger.Errorf("command failed: %v", err)
		os.Exit(1)
	}
}
