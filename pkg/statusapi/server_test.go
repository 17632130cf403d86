package statusapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/pipewatch/pkg/models"
	"github.com/codeready-toolchain/pipewatch/pkg/protocol"
	"github.com/codeready-toolchain/pipewatch/pkg/restapi"
	"github.com/codeready-toolchain/pipewatch/pkg/session"
	"github.com/codeready-toolchain/pipewatch/pkg/stream"
	"github.com/codeready-toolchain/pipewatch/pkg/transport"
)

type stubPersistence struct{}

func (stubPersistence) LoadSession(context.Context) (models.Session, bool, error) {
	return models.Session{}, false, nil
}
func (stubPersistence) SaveSession(context.Context, models.Session) error { return nil }

type stubAPI struct{}

func (stubAPI) RestoreSession(context.Context, restapi.RestoreRequest) (restapi.RestoreResponse, error) {
	return restapi.RestoreResponse{}, nil
}
func (stubAPI) AckEvents(context.Context, []string) error { return nil }

func setupServer(t *testing.T) (*Server, *stream.Store, *session.Manager) {
	t.Helper()
	store := stream.NewStore(nil)
	sessions := session.NewManager(stubPersistence{}, stubAPI{}, nil)
	srv := NewServer(store, sessions, func() transport.Status { return transport.StatusConnected })
	return srv, store, sessions
}

func doGet(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _, _ := setupServer(t)

	rec := doGet(t, srv, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "connected", body["connection"])
}

func TestGetPipeline(t *testing.T) {
	srv, store, _ := setupServer(t)
	store.RegisterPipeline(models.Pipeline{ID: "p1", Status: models.PipelineRunning, CurrentStep: 1},
		[]models.Step{{Number: 1, Name: "analyze", Status: models.StepRunning}})
	store.Apply(protocol.Token{PipelineID: "p1", StepNumber: 1, Content: "Hello"})

	rec := doGet(t, srv, "/api/pipelines/p1")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap stream.PipelineSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "p1", snap.Pipeline.ID)
	require.Len(t, snap.Steps, 1)
	require.Len(t, snap.Steps[0].Live, 1)
	assert.Equal(t, "Hello", snap.Steps[0].Live[0].Content)
}

func TestGetPipeline_UnknownIs404(t *testing.T) {
	srv, _, _ := setupServer(t)

	rec := doGet(t, srv, "/api/pipelines/ghost")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSession(t *testing.T) {
	srv, _, sessions := setupServer(t)
	require.NoError(t, sessions.OpenTab(context.Background(), "PROJ-1", "p1"))
	sessions.Enqueue(models.OfflineEvent{ID: "e1", Category: models.OfflinePipelineFailed})

	rec := doGet(t, srv, "/api/session")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Session       models.Session        `json:"session"`
		PendingEvents []models.OfflineEvent `json:"pending_events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "PROJ-1", body.Session.ActiveTab)
	require.Len(t, body.PendingEvents, 1)
	assert.Equal(t, "e1", body.PendingEvents[0].ID)
}
