package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"compliance/backend/internal/config"
	"compliance/backend/internal/embedding"
	"compliance/backend/internal/ingest"
	"compliance/backend/internal/vectorstore"
)

func main() {
	corpusDir := flag.String("corpus", "metadata", "directory holding the regulatory corpus (.json/.txt/.md/.pdf)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if !cfg.RetrievalConfigured() {
		log.Fatal("ingestion requires QDRANT_URL and EMBEDDING_API_KEY")
	}

	documents, err := ingest.LoadDirectory(*corpusDir)
	if err != nil {
		log.Fatalf("load corpus: %v", err)
	}
	if len(documents) == 0 {
		log.Fatalf("no documents found in %s", *corpusDir)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	embedder := embedding.NewClient(cfg, nil)
	store := vectorstore.NewClient(cfg, nil)
	ingester := ingest.NewIngester(embedder, store)

	result, err := ingester.Run(ctx, documents)
	if err != nil {
		log.Fatalf("ingestion failed after %d documents: %v", result.Embedded, err)
	}

	log.Printf("ingestion complete: embedded=%d skipped=%d collection=%s", result.Embedded, result.Skipped, cfg.QdrantCollection)
}
