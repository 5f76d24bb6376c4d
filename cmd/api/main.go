package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"compliance/backend/internal/config"
	"compliance/backend/internal/embedding"
	"compliance/backend/internal/hints"
	"compliance/backend/internal/httpapi"
	"compliance/backend/internal/orchestrator"
	"compliance/backend/internal/retrieval"
	"compliance/backend/internal/sonar"
	"compliance/backend/internal/vectorstore"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	embedder := embedding.NewClient(cfg, nil)
	store := vectorstore.NewClient(cfg, nil)
	retriever := retrieval.NewRetriever(embedder, store, cfg)
	intel := sonar.NewClient(cfg, nil)

	rules := hints.DefaultRules()
	if cfg.HintRulesFile != "" {
		loaded, err := hints.LoadRules(cfg.HintRulesFile)
		if err != nil {
			log.Fatalf("load hint rules: %v", err)
		}
		rules = loaded
	}
	generator := hints.NewGenerator(rules)

	status := orchestrator.NewStatus(cfg.RetrievalConfigured(), cfg.SonarConfigured())
	pipeline := orchestrator.New(retriever, intel, generator, cfg, status)

	var collection httpapi.CollectionInspector
	if cfg.QdrantURL != "" {
		collection = store
	}

	handler := httpapi.NewRouter(cfg, pipeline, status, collection)

	srv := &http.Server{
		Addr:         cfg.ListenAddress(),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.SonarTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("api listening on %s environment=%s rag=%t sonar=%t hints=%t",
			cfg.ListenAddress(), cfg.Environment, cfg.EnableRAG, cfg.EnableSonar, cfg.EnableHints)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
