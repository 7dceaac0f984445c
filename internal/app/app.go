// Package app initializes and wires the application components.
//
// App is the container created by Setup: configuration, Genkit, the
// database pool and the ingestion and answering pipelines. Call Close to
// release resources.
package app

import (
	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/askany/askany/internal/answer"
	"github.com/askany/askany/internal/config"
	"github.com/askany/askany/internal/document"
	"github.com/askany/askany/internal/ingest"
	"github.com/askany/askany/internal/log"
	"github.com/askany/askany/internal/search"
	"github.com/askany/askany/internal/store"
)

// App is the application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	DBPool   *pgxpool.Pool

	Documents *document.FSStore
	Store     *store.Postgres

	Orchestrator *ingest.Orchestrator
	Retriever    *search.Retriever
	Answer       *answer.Service
}

// Close releases all resources.
func (a *App) Close() error {
	a.Logger.Info("shutting down application")
	if a.DBPool != nil {
		a.DBPool.Close()
		a.Logger.Debug("database pool closed")
	}
	return nil
}

// Mode returns the configured retrieval mode.
func (a *App) Mode() search.Mode {
	if a.Config.RetrievalMode == config.ModeSemantic {
		return search.Semantic
	}
	return search.Hybrid
}
