/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/valpere/tradutor/internal/config"
	"github.com/valpere/tradutor/internal/pipeline"
)

func TestAppGenerators(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models":[]}`))
	}))
	defer up.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{name: "backend up", url: up.URL},
		{name: "backend down", url: down.URL, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Translate.BaseURL = tt.url
			cfg.Translate.FallbackModels = []string{"qwen3:8b"}
			a := &app{cfg: cfg, logger: zaptest.NewLogger(t)}

			gens, err := a.generators(context.Background(), pipeline.StageTranslate)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error when no backend answers")
				}
				return
			}
			if err != nil {
				t.Fatalf("generators failed: %v", err)
			}
			if len(gens) != 2 {
				t.Errorf("got %d generators, want 2", len(gens))
			}
		})
	}

	a := &app{cfg: config.Default(), logger: zaptest.NewLogger(t)}
	if _, err := a.generators(context.Background(), "summarize"); err == nil {
		t.Error("expected an error for an unknown stage")
	}
}
