package main

import (
	"os"

	"github.com/oncokb/backend/internal/ctl"
	"github.com/oncokb/backend/pkg/logger"
)

func main() {
	logger.Init()
	if err := ctl.Execute(); err != nil {
		os.Exit(1)
	}
}
