package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"shopstack/backend/internal/cache"
	"shopstack/backend/internal/domain"
	"shopstack/backend/internal/service"
	"shopstack/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, cache.NoopProductCache{}, 300)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*")
}

func loginAs(t *testing.T, handler http.Handler, username string, password string) string {
	t.Helper()

	payload, _ := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s failed: %d %s", username, rec.Code, rec.Body.String())
	}

	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func csrfToken(t *testing.T, handler http.Handler) string {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("csrf token fetch failed: %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode csrf response: %v", err)
	}
	return body["csrf_token"]
}

func authedRequest(t *testing.T, handler http.Handler, method string, path string, token string, csrf string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "owner",
		"password": "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleLogin_RateLimit(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	// The loginLimiter allows 5 attempts per minute.
	// Fire 6 requests from the same "IP" (httptest uses RemoteAddr "192.0.2.1:1234").
	payload, _ := json.Marshal(map[string]string{
		"username": "owner",
		"password": "badpass",
	})

	var lastCode int
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		lastCode = rec.Code
	}

	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after 6 attempts, got %d", lastCode)
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "owner", "owner123")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["products"] == nil {
		t.Fatalf("expected products key in response, got %v", body)
	}
}

func TestScanAndCompleteSaleFlow(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "staff", "staff123")
	csrf := csrfToken(t, handler)

	rec := authedRequest(t, handler, http.MethodPost, "/api/v1/sales/pending/lines", token, csrf, map[string]any{
		"product_ref": "3456789012345",
		"quantity":    2,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("scan failed: %d %s", rec.Code, rec.Body.String())
	}

	var scanned struct {
		Sale domain.Sale `json:"sale"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&scanned); err != nil {
		t.Fatalf("decode scan response: %v", err)
	}
	if len(scanned.Sale.Items) != 1 || scanned.Sale.Items[0].Quantity != 2 {
		t.Fatalf("expected one line of 2, got %+v", scanned.Sale.Items)
	}

	rec = authedRequest(t, handler, http.MethodPost, fmt.Sprintf("/api/v1/sales/%s/complete", scanned.Sale.ID), token, csrf, map[string]any{
		"customer_name": "Walk-in",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("complete failed: %d %s", rec.Code, rec.Body.String())
	}

	var completed struct {
		Sale domain.Sale `json:"sale"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&completed); err != nil {
		t.Fatalf("decode complete response: %v", err)
	}
	if completed.Sale.Status != domain.SaleStatusCompleted {
		t.Fatalf("expected completed status, got %s", completed.Sale.Status)
	}
	if got := completed.Sale.TotalPrice.StringFixed(2); got != "159.98" {
		t.Fatalf("expected total 159.98, got %s", got)
	}

	// Completion is terminal.
	rec = authedRequest(t, handler, http.MethodPost, fmt.Sprintf("/api/v1/sales/%s/complete", scanned.Sale.ID), token, csrf, map[string]any{})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second completion, got %d", rec.Code)
	}
}

func TestScanInsufficientStockReturns422(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "owner", "owner123")
	csrf := csrfToken(t, handler)

	rec := authedRequest(t, handler, http.MethodPost, "/api/v1/sales/pending/lines", token, csrf, map[string]any{
		"product_ref": "3456789012345",
		"quantity":    100000,
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for insufficient stock, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestReturnIntakeOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "owner", "owner123")
	csrf := csrfToken(t, handler)

	rec := authedRequest(t, handler, http.MethodPost, "/api/v1/returns", token, csrf, map[string]any{
		"item_ref": "GLV-005",
		"quantity": 3,
		"reason":   "torn packaging",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("return intake failed: %d %s", rec.Code, rec.Body.String())
	}

	var created struct {
		Item domain.ReturnedDamagedItem `json:"item"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode return response: %v", err)
	}
	if created.Item.Kind != domain.ReturnKindDamage {
		t.Fatalf("expected damage kind without receipt, got %s", created.Item.Kind)
	}

	rec = authedRequest(t, handler, http.MethodGet, "/api/v1/returns/"+created.Item.ID, token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get return failed: %d", rec.Code)
	}
}

func TestAuditLogsRequireOwnerRole(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	staffToken := loginAs(t, handler, "staff", "staff123")
	rec := authedRequest(t, handler, http.MethodGet, "/api/v1/audit-logs", staffToken, "", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff on audit logs, got %d", rec.Code)
	}

	ownerToken := loginAs(t, handler, "owner", "owner123")
	rec = authedRequest(t, handler, http.MethodGet, "/api/v1/audit-logs", ownerToken, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for owner on audit logs, got %d", rec.Code)
	}
}

func TestBarcodeLookup(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "owner", "owner123")

	rec := authedRequest(t, handler, http.MethodGet, "/api/v1/products/barcode/3456789012345", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("barcode lookup failed: %d %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Product domain.Product `json:"product"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Product.Name != "Power Drill" {
		t.Fatalf("expected Power Drill, got %s", body.Product.Name)
	}

	rec = authedRequest(t, handler, http.MethodGet, "/api/v1/products/barcode/0000000000000", token, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown barcode, got %d", rec.Code)
	}
}

func TestStaffManagementEndpoints(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	ownerToken := loginAs(t, handler, "owner", "owner123")
	csrf := csrfToken(t, handler)

	rec := authedRequest(t, handler, http.MethodPost, "/api/v1/users/staff", ownerToken, csrf, map[string]string{
		"username": "cashier2",
		"password": "secret99",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create staff failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = authedRequest(t, handler, http.MethodGet, "/api/v1/users/staff", ownerToken, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list staff failed: %d", rec.Code)
	}

	var body struct {
		Staff []domain.StaffUser `json:"staff"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	found := false
	for _, member := range body.Staff {
		if member.Username == "cashier2" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected cashier2 in staff list, got %+v", body.Staff)
	}

	// Staff cannot manage staff.
	staffToken := loginAs(t, handler, "staff", "staff123")
	rec = authedRequest(t, handler, http.MethodGet, "/api/v1/users/staff", staffToken, "", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff listing staff, got %d", rec.Code)
	}
}
