package main

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"LiveCatalog/internal/catalog"
	"LiveCatalog/internal/images"
	"LiveCatalog/internal/live"
	"LiveCatalog/pkg/kit"
)

func main() {
	service := "catalog"
	log := kit.NewLogger(service)
	defer func() { _ = log.Sync() }()

	port := getenv("PORT", "3000")
	uploadDir := getenv("UPLOAD_DIR", "uploads")

	reg := prometheus.NewRegistry()

	imgs, err := images.NewStore(uploadDir, log)
	if err != nil {
		log.Fatal("init image store failed", zap.Error(err))
	}

	hub := live.NewHub(log, reg)

	s := &catalog.Server{
		Log: log,
		Service: &catalog.Service{
			Store:  catalog.NewStore(),
			Images: imgs,
			Live:   hub,
			Log:    log,
		},
	}

	h := catalog.NewHandler(s, catalog.HTTPDeps{
		Log:            log,
		Service:        service,
		Registry:       reg,
		MetricsEnabled: getenv("METRICS_ENABLED", "true") == "true",
		MetricsToken:   os.Getenv("METRICS_TOKEN"),
		UploadDir:      uploadDir,
		Live:           hub,
	})

	if err := kit.RunHTTPServer(":"+port, h, log); err != nil {
		log.Fatal("http server stopped", zap.Error(err))
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
