package discover

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/realizacred/mais-energia-solar-sub003/internal/irradiance"
)

const indexHTML = `<html><body>
<h1>Dataset downloads</h1>
<ul>
<li><a href="/files/global_horizontal.csv">GHI grid</a></li>
<li><a href="files/diffuse.csv">Diffuse grid</a></li>
<li><a href="https://cdn.example.com/direct_normal.txt">DNI grid</a></li>
<li><a href="/files/global_horizontal.csv">duplicate link</a></li>
<li><a href="/docs/manual.pdf">Manual</a></li>
<li><a href="/about">About</a></li>
</ul>
</body></html>`

func TestParseIndex(t *testing.T) {
	base, _ := url.Parse("https://data.example.com/atlas/")

	files, err := parseIndex(base, strings.NewReader(indexHTML))
	if err != nil {
		t.Fatalf("parseIndex failed: %v", err)
	}

	if len(files) != 3 {
		t.Fatalf("Expected 3 files, got %d: %+v", len(files), files)
	}

	if files[0].URL != "https://data.example.com/files/global_horizontal.csv" {
		t.Errorf("Unexpected absolute url: %s", files[0].URL)
	}
	if files[0].Component != irradiance.ComponentGHI {
		t.Errorf("Expected GHI component, got %v", files[0].Component)
	}

	if files[1].URL != "https://data.example.com/atlas/files/diffuse.csv" {
		t.Errorf("Relative link not resolved against page: %s", files[1].URL)
	}
	if files[1].Component != irradiance.ComponentDHI {
		t.Errorf("Expected DHI component, got %v", files[1].Component)
	}

	if files[2].Component != irradiance.ComponentDNI {
		t.Errorf("Expected DNI component, got %v", files[2].Component)
	}
}

func TestDiscoverSources(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(indexHTML))
	}))
	defer srv.Close()

	files, err := DiscoverSources(context.Background(), srv.Client(), srv.URL+"/atlas/")
	if err != nil {
		t.Fatalf("DiscoverSources failed: %v", err)
	}
	if len(files) != 3 {
		t.Errorf("Expected 3 files, got %d", len(files))
	}
}

func TestDiscoverSources_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := DiscoverSources(context.Background(), srv.Client(), srv.URL); err == nil {
		t.Error("Expected error on non-200 index page")
	}
}
