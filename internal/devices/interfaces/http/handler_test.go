package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"pumpwatch/internal/devices/infrastructure/memory"
	devicehttp "pumpwatch/internal/devices/interfaces/http"
)

func TestRegisterDeviceIssuesTokenOnce(t *testing.T) {
	repo := memory.NewDeviceRepository()
	handler, err := devicehttp.NewHandler(repo, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	body := []byte(`{"id": "pump-07", "name": "Pump 07", "location": "field-3"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var created map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	token, _ := created["token"].(string)
	if token == "" {
		t.Fatal("expected token in registration response")
	}

	stored, err := repo.GetByToken(context.Background(), token)
	if err != nil || stored == nil || stored.ID != "pump-07" {
		t.Fatalf("token lookup failed: %v %v", stored, err)
	}

	// Updating the same device keeps its token and stops returning it.
	body = []byte(`{"id": "pump-07", "name": "Pump 07 North", "location": "field-3"}`)
	req = httptest.NewRequest(http.MethodPost, "/api/v1/devices", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", rec.Code, rec.Body.String())
	}
	var updated map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode update: %v", err)
	}
	if tok, _ := updated["token"].(string); tok != "" {
		t.Fatal("update response must not include token")
	}
	stored, err = repo.Get(context.Background(), "pump-07")
	if err != nil || stored == nil {
		t.Fatalf("get after update: %v %v", stored, err)
	}
	if stored.Token != token {
		t.Fatal("update must not rotate the device token")
	}
	if stored.Name != "Pump 07 North" {
		t.Fatalf("name not updated: %s", stored.Name)
	}
}

func TestListDevicesHidesTokens(t *testing.T) {
	repo := memory.NewDeviceRepository()
	handler, err := devicehttp.NewHandler(repo, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	body := []byte(`{"id": "pump-07", "name": "Pump 07"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("token")) {
		t.Fatalf("list response leaks tokens: %s", rec.Body.String())
	}
}

func TestGetDeviceNotFound(t *testing.T) {
	repo := memory.NewDeviceRepository()
	handler, err := devicehttp.NewHandler(repo, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices/pump-99", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
