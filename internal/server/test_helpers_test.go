package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/stickyboard/backend/internal/database"
	"github.com/MarcoPoloResearchLab/stickyboard/backend/internal/notes"
	"github.com/MarcoPoloResearchLab/stickyboard/backend/internal/presence"
	"github.com/MarcoPoloResearchLab/stickyboard/backend/internal/uploads"
	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type routerFixture struct {
	db       *gorm.DB
	handler  http.Handler
	engine   *notes.Engine
	hub      *Hub
	storage  *uploads.Storage
	presence *presence.Registry
	metrics  *Metrics
}

func newRouterFixture(t *testing.T, mutate func(*Dependencies)) routerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "board.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	repository, err := notes.NewRepository(notes.RepositoryConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build repository: %v", err)
	}

	storage, err := uploads.NewStorage(uploads.StorageConfig{FileSystem: afero.NewMemMapFs(), Directory: "uploads"})
	if err != nil {
		t.Fatalf("failed to build storage: %v", err)
	}
	janitor := uploads.NewJanitor(uploads.JanitorConfig{Remover: storage})
	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	t.Cleanup(stopJanitor)
	go func() { _ = janitor.Run(janitorCtx) }()

	metrics := NewMetrics()
	hub := NewHub(HubConfig{BufferSize: 32, OnSubscribersChanged: metrics.SetRealtimeSubscribers})

	store, err := notes.NewStore(notes.StoreConfig{IDProvider: notes.NewUUIDProvider()})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	engine, err := notes.NewEngine(notes.EngineConfig{
		Store:     store,
		AuditLog:  notes.NewAuditLog(notes.AuditLogConfig{}),
		Persister: repository,
		Publisher: hub,
		Cleanup:   janitor,
	})
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}

	registry := presence.NewRegistry()
	deps := Dependencies{
		Board:    engine,
		Files:    storage,
		Presence: registry,
		Hub:      hub,
		Metrics:  metrics,
		Logger:   zap.NewNop(),
	}
	if mutate != nil {
		mutate(&deps)
	}
	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return routerFixture{
		db:       db,
		handler:  handler,
		engine:   engine,
		hub:      hub,
		storage:  storage,
		presence: registry,
		metrics:  metrics,
	}
}

func (f routerFixture) do(t *testing.T, method, path string, body io.Reader, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = http.NoBody
	}
	request := httptest.NewRequest(method, path, body)
	if cookie != nil {
		request.AddCookie(cookie)
	}
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	return recorder
}

func (f routerFixture) doJSON(t *testing.T, method, path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	request := httptest.NewRequest(method, path, strings.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		request.AddCookie(cookie)
	}
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	return recorder
}

func (f routerFixture) createNote(t *testing.T, text, author string) notes.Note {
	t.Helper()
	result, err := f.engine.HandleCreate(context.Background(), notes.CreateIntent{Text: text, Author: author})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	return *result.Note
}

func waitUntil(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
