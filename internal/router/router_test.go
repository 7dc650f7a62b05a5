package router_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tnr-records/internal/adapters/storage/memory"
	"tnr-records/internal/domain/records"
	"tnr-records/internal/router"
)

func seededServer(t *testing.T) *httptest.Server {
	t.Helper()

	t0 := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	st := memory.NewStore()
	err := st.Seed(context.Background(),
		&records.Person{Meta: records.Meta{ID: "p-1", CreatedAt: t0}, FirstName: "John", LastName: "Smith", Email: "john@example.org", Phone: "7075550101"},
		&records.Person{Meta: records.Meta{ID: "p-2", CreatedAt: t0}, FirstName: "John", LastName: "Smith", Email: "john@example.org", Phone: "7075550101"},
		&records.Cat{Meta: records.Meta{ID: "c-1", CreatedAt: t0}, Name: "Tom"},
		records.Relationship{ID: "r-owner", Type: records.RelOwner, FromKind: records.KindPerson, FromID: "p-2", ToKind: records.KindCat, ToID: "c-1", CreatedAt: t0},
	)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	ts := httptest.NewServer(router.NewRouter(router.Options{AuthVerifier: nil, Store: st}))
	t.Cleanup(ts.Close)
	return ts
}

func TestHTTP_EndToEnd_EditAndMerge(t *testing.T) {
	ts := seededServer(t)

	editorA := "staff-a"
	editorB := "staff-b"

	// 1) Sin lock no se puede editar
	{
		st, body := doReq(t, ts.URL, "PATCH", "/entities/person/p-1", editorA, map[string]any{
			"edits": []map[string]any{{"field": "notes", "value": "prefers texts"}},
		})
		if st != http.StatusConflict {
			t.Fatalf("expected 409 without lock, got %d body=%s", st, string(body))
		}
		if code := errorCode(t, body); code != "lock_required" {
			t.Fatalf("expected lock_required, got %q", code)
		}
	}

	// 2) A toma el lock; B choca
	{
		st, body := doReq(t, ts.URL, "POST", "/entities/person/p-1/lock", editorA, map[string]any{"reason": "cleanup"})
		if st != http.StatusOK {
			t.Fatalf("expected 200 acquire lock, got %d body=%s", st, string(body))
		}
		st, body = doReq(t, ts.URL, "POST", "/entities/person/p-1/lock", editorB, nil)
		if st != http.StatusConflict {
			t.Fatalf("expected 409 for second editor, got %d body=%s", st, string(body))
		}
	}

	// 3) A edita y queda en el historial
	var editID string
	{
		st, body := doReq(t, ts.URL, "PATCH", "/entities/person/p-1", editorA, map[string]any{
			"edits": []map[string]any{{"field": "notes", "value": "prefers texts"}},
		})
		if st != http.StatusOK {
			t.Fatalf("expected 200 patch, got %d body=%s", st, string(body))
		}
		var resp struct {
			EditIDs []string       `json:"edit_ids"`
			Entity  map[string]any `json:"entity"`
		}
		_ = json.Unmarshal(body, &resp)
		if len(resp.EditIDs) != 1 {
			t.Fatalf("expected one edit id, got %v", resp.EditIDs)
		}
		if resp.Entity["notes"] != "prefers texts" {
			t.Fatalf("expected notes updated, got %v", resp.Entity["notes"])
		}
		editID = resp.EditIDs[0]

		st, body = doReq(t, ts.URL, "GET", "/entities/person/p-1/history", editorA, nil)
		if st != http.StatusOK {
			t.Fatalf("expected 200 history, got %d body=%s", st, string(body))
		}
		var h struct {
			Entries []struct {
				EditID   string `json:"edit_id"`
				EditorID string `json:"editor_id"`
			} `json:"entries"`
		}
		_ = json.Unmarshal(body, &h)
		if len(h.Entries) != 1 || h.Entries[0].EditID != editID || h.Entries[0].EditorID != editorA {
			t.Fatalf("unexpected history: %s", string(body))
		}
	}

	// 4) Rollback de la edición
	{
		st, body := doReq(t, ts.URL, "POST", "/audit/"+editID+"/rollback", editorA, map[string]any{"reason": "typo"})
		if st != http.StatusOK {
			t.Fatalf("expected 200 rollback, got %d body=%s", st, string(body))
		}
		st, body = doReq(t, ts.URL, "POST", "/audit/"+editID+"/rollback", editorA, nil)
		if st != http.StatusConflict {
			t.Fatalf("expected 409 on second rollback, got %d body=%s", st, string(body))
		}
	}

	// 5) Par candidato p-1/p-2
	var pairID string
	{
		st, body := doReq(t, ts.URL, "POST", "/candidate-pairs", "", map[string]any{
			"entity_type":     "person",
			"left_entity_id":  "p-1",
			"right_entity_id": "p-2",
			"match_type":      "email",
		})
		if st != http.StatusCreated {
			t.Fatalf("expected 201 submit pair, got %d body=%s", st, string(body))
		}
		var resp struct {
			Pair struct {
				PairID           string  `json:"pair_id"`
				MatchProbability float64 `json:"match_probability"`
			} `json:"pair"`
		}
		_ = json.Unmarshal(body, &resp)
		if resp.Pair.PairID == "" || resp.Pair.MatchProbability < 0.9 {
			t.Fatalf("unexpected pair: %s", string(body))
		}
		pairID = resp.Pair.PairID

		st, body = doReq(t, ts.URL, "GET", "/candidate-pairs?entity_type=person", "", nil)
		if st != http.StatusOK {
			t.Fatalf("expected 200 list pairs, got %d body=%s", st, string(body))
		}
		var list struct {
			Count int `json:"count"`
		}
		_ = json.Unmarshal(body, &list)
		if list.Count != 1 {
			t.Fatalf("expected 1 pending pair, got %d", list.Count)
		}
	}

	// 6) Resolver sin editor => 401
	{
		st, body := doReq(t, ts.URL, "POST", "/candidate-pairs/"+pairID+"/resolve", "", map[string]any{"decision": "merge"})
		if st != http.StatusUnauthorized {
			t.Fatalf("expected 401 without editor, got %d body=%s", st, string(body))
		}
	}

	// 7) Merge conservando p-1
	{
		st, body := doReq(t, ts.URL, "POST", "/candidate-pairs/"+pairID+"/resolve", editorA, map[string]any{
			"decision": "merge",
			"keep_id":  "p-1",
			"reason":   "same person",
		})
		if st != http.StatusOK {
			t.Fatalf("expected 200 merge, got %d body=%s", st, string(body))
		}
		var resp struct {
			SurvivorID string `json:"survivor_id"`
			LoserID    string `json:"loser_id"`
			Repoint    struct {
				Moved int `json:"relationships_moved"`
			} `json:"repoint"`
		}
		_ = json.Unmarshal(body, &resp)
		if resp.SurvivorID != "p-1" || resp.LoserID != "p-2" || resp.Repoint.Moved != 1 {
			t.Fatalf("unexpected merge result: %s", string(body))
		}

		st, body = doReq(t, ts.URL, "POST", "/candidate-pairs/"+pairID+"/resolve", editorB, map[string]any{"decision": "dismiss"})
		if st != http.StatusConflict {
			t.Fatalf("expected 409 already resolved, got %d body=%s", st, string(body))
		}
		if code := errorCode(t, body); code != "already_resolved" {
			t.Fatalf("expected already_resolved, got %q", code)
		}
	}

	// 8) p-2 es lápida y no admite ediciones
	{
		st, body := doReq(t, ts.URL, "GET", "/entities/person/p-2", "", nil)
		if st != http.StatusOK {
			t.Fatalf("expected 200 get tombstone, got %d body=%s", st, string(body))
		}
		var e map[string]any
		_ = json.Unmarshal(body, &e)
		if e["merged_into"] != "p-1" {
			t.Fatalf("expected merged_into p-1, got %v", e["merged_into"])
		}

		st, body = doReq(t, ts.URL, "GET", "/entities/cat/c-1/relationships", "", nil)
		if st != http.StatusOK {
			t.Fatalf("expected 200 relationships, got %d body=%s", st, string(body))
		}
		var links struct {
			Relationships []struct {
				FromID string `json:"from_id"`
			} `json:"relationships"`
		}
		_ = json.Unmarshal(body, &links)
		if len(links.Relationships) != 1 || links.Relationships[0].FromID != "p-1" {
			t.Fatalf("expected owner repointed to p-1: %s", string(body))
		}
	}
}

func TestHTTP_LockHolderFromBody(t *testing.T) {
	ts := seededServer(t)

	// Sin header ni holder_id no hay editor
	{
		st, body := doReq(t, ts.URL, "POST", "/entities/person/p-1/lock", "", map[string]any{"reason": "cleanup"})
		if st != http.StatusUnauthorized {
			t.Fatalf("expected 401 without holder, got %d body=%s", st, string(body))
		}
	}

	// El holder_id del body alcanza para tomar el lock y editar
	{
		st, body := doReq(t, ts.URL, "POST", "/entities/person/p-1/lock", "", map[string]any{
			"holder_id":   "staff-a",
			"holder_name": "Ana",
			"reason":      "cleanup",
		})
		if st != http.StatusOK {
			t.Fatalf("expected 200 acquire lock, got %d body=%s", st, string(body))
		}
		var resp struct {
			Lock records.EditLock `json:"lock"`
		}
		_ = json.Unmarshal(body, &resp)
		if resp.Lock.HolderID != "staff-a" || resp.Lock.HolderName != "Ana" {
			t.Fatalf("unexpected lock holder %+v", resp.Lock)
		}

		st, body = doReq(t, ts.URL, "PATCH", "/entities/person/p-1", "", map[string]any{
			"edits":     []map[string]any{{"field": "notes", "value": "call after 5pm"}},
			"editor_id": "staff-a",
		})
		if st != http.StatusOK {
			t.Fatalf("expected 200 patch, got %d body=%s", st, string(body))
		}
	}

	// Otro holder no libera; el dueño sí
	{
		st, body := doReq(t, ts.URL, "DELETE", "/entities/person/p-1/lock", "", map[string]any{"holder_id": "staff-b"})
		if st != http.StatusOK {
			t.Fatalf("expected 200 release, got %d body=%s", st, string(body))
		}
		if released := releasedFlag(t, body); released {
			t.Fatalf("staff-b must not release staff-a's lock")
		}

		st, body = doReq(t, ts.URL, "DELETE", "/entities/person/p-1/lock", "", map[string]any{"holder_id": "staff-a"})
		if st != http.StatusOK {
			t.Fatalf("expected 200 release, got %d body=%s", st, string(body))
		}
		if released := releasedFlag(t, body); !released {
			t.Fatalf("expected lock released, body=%s", string(body))
		}

		st, _ = doReq(t, ts.URL, "DELETE", "/entities/person/p-1/lock", "", nil)
		if st != http.StatusUnauthorized {
			t.Fatalf("expected 401 release without holder, got %d", st)
		}
	}
}

func releasedFlag(t *testing.T, body []byte) bool {
	t.Helper()
	var resp struct {
		Released bool `json:"released"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode release: %v", err)
	}
	return resp.Released
}

func TestHTTP_Ambient(t *testing.T) {
	ts := seededServer(t)

	for _, path := range []string{"/health", "/metrics", "/swagger/doc.json"} {
		st, body := doReq(t, ts.URL, "GET", path, "", nil)
		if st != http.StatusOK {
			t.Fatalf("expected 200 for %s, got %d body=%s", path, st, string(body))
		}
	}

	st, body := doReq(t, ts.URL, "GET", "/entities/dog/x", "", nil)
	if st != http.StatusBadRequest {
		t.Fatalf("expected 400 unknown kind, got %d body=%s", st, string(body))
	}
	if code := errorCode(t, body); code != "unknown_entity_type" {
		t.Fatalf("expected unknown_entity_type, got %q", code)
	}
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode error body: %v body=%s", err, string(body))
	}
	return resp.Error.Code
}

func doReq(t *testing.T, baseURL, method, path, debugUserID string, body any) (int, []byte) {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("json marshal: %v", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, baseURL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if debugUserID != "" {
		req.Header.Set("X-Debug-User-ID", debugUserID)
	}

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()

	respBody, _ := io.ReadAll(res.Body)
	return res.StatusCode, respBody
}
