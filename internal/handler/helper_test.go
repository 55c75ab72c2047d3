package handler

import "github.com/volcanion-company/volcanion-load-engine/internal/logger"

func init() {
	if err := logger.Init("error"); err != nil {
		panic(err)
	}
}
