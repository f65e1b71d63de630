package main

import (
	"net/http"

	"github.com/agamordechai/EASS-partA-WorkoutTracker/internal/fakeupstream"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Dummy backend starting", zap.String("addr", ":8000"))
	if err := http.ListenAndServe(":8000", fakeupstream.New()); err != nil {
		logger.Fatal("Dummy backend stopped", zap.Error(err))
	}
}
