package server

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/imgclassify/internal/config"
	"github.com/onnwee/imgclassify/internal/modelclient"
)

type stubFetcher struct{}

func (stubFetcher) Fetch(ctx context.Context, url string) (image.Image, error) {
	if strings.Contains(url, "missing") {
		return nil, errors.New("not found")
	}
	return image.NewRGBA(image.Rect(0, 0, 2, 2)), nil
}

type stubClassifier struct{}

func (stubClassifier) Classify(ctx context.Context, img image.Image) (string, float64, error) {
	return "goldfish", 0.75, nil
}

func testConfig(backend string) *config.Config {
	return &config.Config{
		ListenAddr:           "127.0.0.1:0",
		CacheMaxSize:         8,
		CacheTTL:             time.Minute,
		CacheBackend:         backend,
		MonitorWindow:        time.Hour,
		MonitorSweepInterval: time.Minute,
		ReportTopN:           5,
		ReportStreamInterval: time.Second,
		ModelURL:             "http://127.0.0.1:1",
		ModelName:            "squeezenet1_1",
		ModelTimeout:         time.Second,
		ModelMaxConcurrency:  1,
		FetchTimeout:         time.Second,
	}
}

func newTestServer(t *testing.T, backend string) *Server {
	t.Helper()
	cfg := testConfig(backend)
	s, err := NewServer(cfg, Collaborators{
		Fetcher:    stubFetcher{},
		Classifier: stubClassifier{},
		Model:      modelclient.New(modelclient.Options{BaseURL: cfg.ModelURL, ModelName: cfg.ModelName}),
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func TestNewServer_Backends(t *testing.T) {
	for _, backend := range []string{"lru", "ristretto"} {
		t.Run(backend, func(t *testing.T) {
			s := newTestServer(t, backend)
			defer s.close()
			if s.Handler() == nil || s.Pipeline() == nil {
				t.Fatal("server not fully wired")
			}
		})
	}
}

func TestServe_ClassifyAndShutdown(t *testing.T) {
	s := newTestServer(t, "lru")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	base := "http://" + ln.Addr().String()
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Post(base+"/classify-image", "application/json",
		strings.NewReader(`{"image_url":"https://example.com/fish.png"}`))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	var out map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&out)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || out["label"] != "goldfish" || out["confidence"] != "0.750" {
		t.Fatalf("unexpected classify response %d %v", resp.StatusCode, out)
	}

	resp, err = client.Post(base+"/classify-image", "application/json",
		strings.NewReader(`{"image_url":"https://example.com/missing.png"}`))
	if err != nil {
		t.Fatalf("classify missing: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected 500 for failed fetch, got %d", resp.StatusCode)
	}

	resp, err = client.Get(base + "/report")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	var report map[string]map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&report)
	resp.Body.Close()
	if len(report) != 1 || report["https://example.com/fish.png"]["count"] != float64(1) {
		t.Errorf("unexpected report %v", report)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestStart_ListenError(t *testing.T) {
	cfg := testConfig("lru")
	cfg.ListenAddr = "256.0.0.1:bad"
	s, err := NewServer(cfg, Collaborators{Fetcher: stubFetcher{}, Classifier: stubClassifier{}})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer s.close()
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected listen error")
	}
}
