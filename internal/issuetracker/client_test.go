package issuetracker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchIssueConvertsEstimates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u, p, ok := r.BasicAuth(); !ok || u != "ana" || p != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/rest/api/2/issue/PROJ-1":
			w.Write([]byte(`{"key":"PROJ-1","fields":{"summary":"checkout","issuetype":{"name":"Story"},
				"timeestimate":36000,
				"subtasks":[
					{"key":"PROJ-2","fields":{"summary":"api","issuetype":{"name":"Sub-task"},"timeestimate":14400}},
					{"key":"PROJ-3","fields":{"summary":"ui","issuetype":{"name":"Sub-task"}}}
				]}}`))
		case "/rest/api/2/issue/PROJ-3":
			w.Write([]byte(`{"key":"PROJ-3","fields":{"summary":"ui","issuetype":{"name":"Sub-task"},"timeestimate":7200}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Username: "ana", Token: "secret"})
	root, subs, err := c.FetchIssue(context.Background(), "PROJ-1")
	if err != nil {
		t.Fatal(err)
	}
	if root.Key != "PROJ-1" || root.Type != "Story" {
		t.Fatalf("root = %+v", root)
	}
	if root.EstimateHours == nil || *root.EstimateHours != 10 {
		t.Fatalf("root estimate = %v, want 10h", root.EstimateHours)
	}
	if len(subs) != 2 {
		t.Fatalf("subs = %d, want 2", len(subs))
	}
	if subs[0].EstimateHours == nil || *subs[0].EstimateHours != 4 {
		t.Fatalf("sub estimate = %v, want 4h", subs[0].EstimateHours)
	}
	// PROJ-3 had no estimate inline, fetched individually.
	if subs[1].EstimateHours == nil || *subs[1].EstimateHours != 2 {
		t.Fatalf("sub estimate = %v, want 2h", subs[1].EstimateHours)
	}
}

func TestFetchIssueErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errorMessages":["issue does not exist"]}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Token: "tok"})
	if _, _, err := c.FetchIssue(context.Background(), "NOPE-1"); err == nil {
		t.Fatal("expected error on 404")
	}
}
