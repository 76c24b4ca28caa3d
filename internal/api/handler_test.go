package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestQueueHandler(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	srv := httptest.NewServer(NewQueueHandler(f.client).Routes())
	defer srv.Close()

	f.net.SetDown(true)
	f.client.Post(ctx, "/riders/location", here, nil)
	f.net.SetDown(false)

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var view queueView
	json.NewDecoder(resp.Body).Decode(&view)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || view.Count != 1 || view.Pending[0].Path != "/riders/location" {
		t.Fatalf("list = %d %+v", resp.StatusCode, view)
	}

	resp, err = http.Post(srv.URL+"/replay", "application/json", nil)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	var res ReplayResult
	json.NewDecoder(resp.Body).Decode(&res)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || res.Succeeded != 1 {
		t.Fatalf("replay = %d %+v", resp.StatusCode, res)
	}
	if n, _ := f.client.Queue().Len(ctx); n != 0 {
		t.Errorf("queue still holds %d", n)
	}
	if got := len(f.backend.Locations()); got != 1 {
		t.Errorf("backend saw %d locations, want 1", got)
	}
}
