package scan_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"passgate/entity"
	"passgate/impl/core"
	"passgate/impl/entitlement"
	"passgate/impl/minter"
	"passgate/internal/http-server/handlers/scan"
	"passgate/internal/memstore"
	"passgate/lib/api/cont"
	"passgate/lib/api/response"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seedEngine returns a wired engine and the code of one live visitor
// pass in compound-1.
func seedEngine(t *testing.T) (*core.Core, string) {
	t.Helper()
	log := testLogger()
	store := memstore.New()
	compound := memstore.NewCompound()
	keys := minter.NewKeys("test-hash-key", "test-issuer-key")
	engine := core.New(store, minter.New(store, compound, keys, log), entitlement.New(compound, log), compound, compound, nil, log)

	code, err := minter.RandomCode()
	if err != nil {
		t.Fatalf("RandomCode: %v", err)
	}
	one := int64(1)
	now := time.Now().UTC()
	if err = store.SaveToken(context.Background(), &entity.AccessToken{
		Id:         "tok-1",
		CompoundId: "compound-1",
		Category:   entity.CategoryVisitor,
		CodeHash:   keys.Hash(code),
		ValidFrom:  now.Add(-time.Hour),
		ValidTo:    now.Add(time.Hour),
		MaxUses:    &one,
		SingleUse:  true,
		Active:     true,
		Visitor:    &entity.VisitorProfile{Name: "Jane", PersonCount: 1},
	}); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
	return engine, code
}

func postScan(t *testing.T, engine *core.Core, code string) (*httptest.ResponseRecorder, response.Response) {
	t.Helper()
	body, _ := json.Marshal(entity.ScanRequest{Code: code, LocationTag: "gate-main"})
	req := httptest.NewRequest(http.MethodPost, "/v1/scan", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	actor := &entity.User{Id: "guard-1", CompoundId: "compound-1", Role: entity.RoleGuard}
	req = req.WithContext(cont.PutUser(req.Context(), actor))

	rec := httptest.NewRecorder()
	scan.Submit(testLogger(), engine)(rec, req)

	var env response.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return rec, env
}

func TestSubmit_GrantedAndDeniedAreBoth200(t *testing.T) {
	engine, code := seedEngine(t)

	rec, env := postScan(t, engine, code)
	if rec.Code != http.StatusOK {
		t.Fatalf("grant status = %d, want 200", rec.Code)
	}
	if !env.Success {
		t.Fatalf("grant envelope not successful: %s", env.StatusMessage)
	}
	data, _ := json.Marshal(env.Data)
	var result entity.ScanResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Outcome != entity.OutcomeGranted {
		t.Fatalf("outcome = %s, want granted", result.Outcome)
	}

	// Second presentation of the single-use code: a business denial,
	// still a 200 with a structured reason.
	rec, env = postScan(t, engine, code)
	if rec.Code != http.StatusOK {
		t.Fatalf("deny status = %d, want 200", rec.Code)
	}
	data, _ = json.Marshal(env.Data)
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Outcome != entity.OutcomeDenied || result.DenialReason != entity.DenyInactive {
		t.Fatalf("second scan = %s/%s, want denied/INACTIVE", result.Outcome, result.DenialReason)
	}
}

func TestSubmit_RejectsShortCode(t *testing.T) {
	engine, _ := seedEngine(t)

	rec, env := postScan(t, engine, "short")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if env.Success {
		t.Error("envelope should report failure")
	}
}
