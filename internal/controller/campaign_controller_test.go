package controller_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-dispatch/internal/controller"
	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

// --- Mock Service ---

type MockCampaignService struct {
	createErr   error
	storedOnErr bool
	sendErr     error
	statusErr   error
	created     service.CreateCampaignInput
	owner       int64
}

func (m *MockCampaignService) CreateCampaign(_ context.Context, ownerID int64, in service.CreateCampaignInput) (*model.Campaign, error) {
	m.owner, m.created = ownerID, in
	if m.createErr != nil && m.storedOnErr {
		return &model.Campaign{ID: 11, OwnerID: ownerID, Name: in.Name, Status: model.StatusPending}, m.createErr
	}
	if m.createErr != nil {
		return nil, m.createErr
	}
	return &model.Campaign{ID: 10, OwnerID: ownerID, Name: in.Name, Channel: model.Channel(in.Channel), Status: model.StatusProcessing}, nil
}

func (m *MockCampaignService) SendNow(_ context.Context, ownerID, id int64) (*model.Campaign, error) {
	m.owner = ownerID
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	return &model.Campaign{ID: id, Status: model.StatusProcessing}, nil
}

func (m *MockCampaignService) GetStatus(_ context.Context, _ int64, id int64) (*service.CampaignStatusView, error) {
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	return &service.CampaignStatusView{
		ID:     id,
		Status: model.StatusCompleted,
		Results: &model.ResultsSummary{
			TotalProcessed: 3, SuccessCount: 2, FailureCount: 1,
		},
	}, nil
}

func (m *MockCampaignService) GetCampaignDetails(_ context.Context, _ int64, id int64) (*model.Campaign, error) {
	return nil, appErrors.NewCampaignNotFound(id)
}

func (m *MockCampaignService) ListCampaigns(context.Context, int64, int, int, string, string) ([]model.Campaign, map[string]int, error) {
	return []model.Campaign{}, map[string]int{}, nil
}

func newRouter(svc controller.CampaignService) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", controller.Healthz)
	(&controller.CampaignController{CampaignService: svc}).Routes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, owner string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if owner != "" {
		req.Header.Set(controller.OwnerHeader, owner)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// --- Tests ---

func TestRequireOwner(t *testing.T) {
	h := newRouter(&MockCampaignService{})

	for _, owner := range []string{"", "abc", "-1", "0"} {
		w := do(t, h, http.MethodGet, "/campaigns", owner, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, "owner %q", owner)
	}

	w := do(t, h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateCampaignHandler(t *testing.T) {
	svc := &MockCampaignService{}
	h := newRouter(svc)

	w := do(t, h, http.MethodPost, "/campaigns", "7", map[string]any{
		"name":          "Spring sale",
		"channel":       "email",
		"audience_type": "all",
		"content":       "Hi {name}",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, int64(7), svc.owner)
	assert.Equal(t, "Hi {name}", svc.created.Content)

	var got model.Campaign
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, model.StatusProcessing, got.Status)
}

func TestCreateCampaignHandler_BadInput(t *testing.T) {
	h := newRouter(&MockCampaignService{createErr: appErrors.Validation("campaign name is required")})

	req := httptest.NewRequest(http.MethodPost, "/campaigns", bytes.NewBufferString("{not json"))
	req.Header.Set(controller.OwnerHeader, "1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPost, "/campaigns", "1", map[string]any{"channel": "email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "campaign name is required")
}

func TestCreateCampaignHandler_StoredButNotStarted(t *testing.T) {
	h := newRouter(&MockCampaignService{createErr: errors.New("deadlock detected"), storedOnErr: true})

	w := do(t, h, http.MethodPost, "/campaigns", "1", map[string]any{
		"name":          "Spring sale",
		"channel":       "email",
		"audience_type": "all",
		"content":       "hi",
	})
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "deadlock")

	var body struct {
		Error    string         `json:"error"`
		Campaign model.Campaign `json:"campaign"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, int64(11), body.Campaign.ID)
	assert.Equal(t, model.StatusPending, body.Campaign.Status)
}

func TestSendCampaignHandler_StatusCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"accepted", nil, http.StatusAccepted},
		{"conflict", fmt.Errorf("%w: status is completed", appErrors.ErrClaimConflict), http.StatusConflict},
		{"not found", appErrors.NewCampaignNotFound(5), http.StatusNotFound},
		{"internal", fmt.Errorf("dispatch hand-off failed: broker down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newRouter(&MockCampaignService{sendErr: tc.err})
			w := do(t, h, http.MethodPost, "/campaigns/5/send", "1", nil)
			assert.Equal(t, tc.want, w.Code)
			if tc.want == http.StatusInternalServerError {
				assert.NotContains(t, w.Body.String(), "broker down")
			}
		})
	}
}

func TestSendCampaignHandler_InvalidID(t *testing.T) {
	h := newRouter(&MockCampaignService{})
	w := do(t, h, http.MethodPost, "/campaigns/abc/send", "1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetCampaignStatusHandler(t *testing.T) {
	h := newRouter(&MockCampaignService{})
	w := do(t, h, http.MethodGet, "/campaigns/3/status", "1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var view service.CampaignStatusView
	require.NoError(t, json.NewDecoder(w.Body).Decode(&view))
	assert.Equal(t, model.StatusCompleted, view.Status)
	assert.Equal(t, 2, view.Results.SuccessCount)

	w = do(t, h, http.MethodGet, "/campaigns/3", "1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListCampaignsPagination(t *testing.T) {
	// --- Seed campaigns that match the filter plus noise that must not ---
	store := repository.NewMemoryStore()
	totalCampaigns := 25
	for i := 1; i <= totalCampaigns; i++ {
		c := &model.Campaign{
			OwnerID:  1,
			Name:     "Campaign " + strconv.Itoa(i),
			Channel:  model.ChannelEmail,
			Audience: model.AudienceSpec{Type: model.AudienceAll},
			Status:   model.StatusScheduled,
		}
		require.NoError(t, store.Create(context.Background(), c, &model.Message{Content: "x"}))
	}
	noise := &model.Campaign{OwnerID: 2, Name: "other", Channel: model.ChannelEmail,
		Audience: model.AudienceSpec{Type: model.AudienceAll}, Status: model.StatusScheduled}
	require.NoError(t, store.Create(context.Background(), noise, &model.Message{Content: "x"}))

	h := newRouter(&service.CampaignService{CampaignRepo: store})

	pageSize := 10
	seen := map[int64]bool{}
	totalPages := (totalCampaigns + pageSize - 1) / pageSize

	for page := 1; page <= totalPages; page++ {
		path := "/campaigns?page=" + strconv.Itoa(page) +
			"&page_size=" + strconv.Itoa(pageSize) +
			"&channel=email&status=scheduled"
		w := do(t, h, http.MethodGet, path, "1", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var res struct {
			Data       []model.Campaign `json:"data"`
			Pagination struct {
				Page       int `json:"page"`
				PageSize   int `json:"page_size"`
				TotalCount int `json:"total_count"`
			} `json:"pagination"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&res))

		assert.Equal(t, page, res.Pagination.Page)
		assert.Equal(t, pageSize, res.Pagination.PageSize)
		assert.Equal(t, totalCampaigns, res.Pagination.TotalCount)

		for _, c := range res.Data {
			assert.False(t, seen[c.ID], "duplicate campaign ID %d across pages", c.ID)
			seen[c.ID] = true
			assert.Equal(t, int64(1), c.OwnerID)
			assert.Equal(t, model.ChannelEmail, c.Channel)
			assert.Equal(t, model.StatusScheduled, c.Status)
		}
	}

	assert.Len(t, seen, totalCampaigns)

	w := do(t, h, http.MethodGet, "/campaigns?channel=sms", "1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
