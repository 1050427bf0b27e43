package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/modularcrm/syncqueue/internal/config"
	"github.com/modularcrm/syncqueue/internal/logger"
	"github.com/modularcrm/syncqueue/internal/model"
	"github.com/modularcrm/syncqueue/internal/pipeline"
	"github.com/modularcrm/syncqueue/internal/repo"
	"github.com/modularcrm/syncqueue/internal/sync"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) (*gin.Engine, repo.RepositoryInterface) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	assert.NoError(t, err)
	sqlDB, err := db.DB()
	assert.NoError(t, err)
	// sqlite gives each pooled connection its own in-memory database
	sqlDB.SetMaxOpenConns(1)
	assert.NoError(t, db.AutoMigrate(&model.Message{}, &model.Product{}, &model.Customer{}))

	log, err := logger.NewLogger()
	assert.NoError(t, err)

	r := repo.NewRepository(db, nil, nil, log)
	entities := sync.NewEntitySet()
	entities.Register(func() sync.Entity { return &model.Product{} })
	entities.Register(func() sync.Entity { return &model.Customer{} })
	handler := sync.NewHandler(entities, pipeline.New(r, log), r, log)

	return NewRouter(handler, r, config.RateLimitConfig{RPS: 100, Burst: 100}, log), r
}

func postJSON(router *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type applyResponse struct {
	Results []sync.ActionResult `json:"results"`
}

func TestApplyEndpoint_AllSucceeded(t *testing.T) {
	router, _ := newTestRouter(t)

	w := postJSON(router, "/sync/apply", sync.Request{
		RequestingModule: "storefront",
		Actions: []sync.Action{
			{ActionType: sync.ActionInsert, Collection: "products", Data: json.RawMessage(`{"sku":"a","name":"A","price":"1","stock":1}`)},
		},
	})
	assert.Equal(t, http.StatusOK, w.Code)

	var resp applyResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Results, 1)
	assert.True(t, resp.Results[0].Success)
	assert.NotNil(t, resp.Results[0].DocumentID)
}

func TestApplyEndpoint_BatchPartialSuccess(t *testing.T) {
	router, _ := newTestRouter(t)

	w := postJSON(router, "/sync/apply", sync.Request{
		RequestingModule: "storefront",
		Actions: []sync.Action{
			{ActionType: sync.ActionInsert, Collection: "products", Data: json.RawMessage(`{"sku":"a","name":"A","price":"1","stock":1}`)},
			{ActionType: sync.ActionInsert, Collection: "ghosts", Data: json.RawMessage(`{}`)},
			{ActionType: sync.ActionInsert, Collection: "products", Data: json.RawMessage(`{"sku":"b","name":"B","price":"2","stock":2}`)},
		},
	})
	assert.Equal(t, http.StatusMultiStatus, w.Code)

	var resp applyResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Results, 3)
	assert.True(t, resp.Results[0].Success)
	assert.False(t, resp.Results[1].Success)
	assert.Contains(t, resp.Results[1].Error, "not found")
	assert.True(t, resp.Results[2].Success)
}

func TestApplyEndpoint_MalformedRequests(t *testing.T) {
	router, _ := newTestRouter(t)

	// no body
	req := httptest.NewRequest(http.MethodPost, "/sync/apply", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// empty action list
	w = postJSON(router, "/sync/apply", sync.Request{RequestingModule: "storefront"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestApplyEndpoint_MissingRequiredFieldsFailPerAction(t *testing.T) {
	router, _ := newTestRouter(t)

	w := postJSON(router, "/sync/apply", sync.Request{
		RequestingModule: "storefront",
		Actions: []sync.Action{
			{ActionType: sync.ActionDelete, Collection: "products"},
		},
	})
	assert.Equal(t, http.StatusMultiStatus, w.Code)

	var resp applyResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Results[0].Success)
	assert.Contains(t, resp.Results[0].Error, "documentId is required")
}

func TestMessageEndpoints_InspectAndRequeue(t *testing.T) {
	router, r := newTestRouter(t)
	ctx := context.Background()

	m := &model.Message{
		QueueName:   "sync-products",
		PayloadType: "sync.deployment",
		Payload:     `{}`,
		CreatedAt:   time.Now().UTC(),
		MaxAttempts: 3,
		Status:      model.StatusPending,
	}
	assert.NoError(t, r.CreateMessage(ctx, m))
	assert.NoError(t, r.MarkProcessing(ctx, m.ID, 1))

	// find the stuck row
	req := httptest.NewRequest(http.MethodGet, "/v1/messages?status=PROCESSING", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	var msgs []model.Message
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &msgs))
	assert.Len(t, msgs, 1)

	// reset it
	w = postJSON(router, fmt.Sprintf("/v1/messages/%d/requeue", m.ID), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	got, err := r.GetMessage(ctx, m.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)

	// completed messages cannot be requeued
	assert.NoError(t, r.MarkProcessing(ctx, m.ID, 2))
	assert.NoError(t, r.MarkCompleted(ctx, m.ID))
	w = postJSON(router, fmt.Sprintf("/v1/messages/%d/requeue", m.ID), nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// single-message lookup
	req = httptest.NewRequest(http.MethodGet, fmt.Sprintf("/v1/messages/%d", m.ID), nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/messages/99999", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
