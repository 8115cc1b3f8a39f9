package weekplanner_test

import (
	"os"
	"strings"
	"testing"
)

func readFile(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(name)
	if err != nil {
		t.Fatalf("%s should exist: %v", name, err)
	}
	return string(data)
}

func TestDockerfile(t *testing.T) {
	content := readFile(t, "Dockerfile")

	checks := []struct {
		name string
		want string
	}{
		{"go builder stage", "FROM golang:"},
		{"builds cmd/weekplanner", "-o /out/weekplanner ./cmd/weekplanner"},
		{"weekplanner entrypoint", `ENTRYPOINT ["/usr/local/bin/weekplanner"]`},
		// distrolessにはシェルがないため、ヘルスチェックはサブコマンドで行う
		{"healthcheck subcommand", `"healthcheck"`},
	}
	for _, c := range checks {
		if !strings.Contains(content, c.want) {
			t.Errorf("%s: Dockerfile should contain %q", c.name, c.want)
		}
	}

	// 最終ステージは軽量イメージであること
	var lastFrom string
	for _, line := range strings.Split(content, "\n") {
		if trimmed := strings.TrimSpace(line); strings.HasPrefix(trimmed, "FROM ") {
			lastFrom = trimmed
		}
	}
	if !strings.Contains(lastFrom, "gcr.io/distroless") {
		t.Errorf("final stage should use distroless, got: %s", lastFrom)
	}
}

func TestDockerCompose(t *testing.T) {
	content := readFile(t, "docker-compose.yml")

	checks := []struct {
		name string
		want string
	}{
		{"api service", "api:"},
		{"worker service", "worker:"},
		{"db service", "db:"},
		{"migrate service", "migrate:"},
		{"postgres image", "image: postgres:"},
		{"worker subcommand", `command: ["worker"]`},
		{"migrate subcommand", `command: ["migrate"]`},
		// DBは外部に出られない内部ネットワークに置く
		{"internal network", "internal: true"},
		// プッシュ通知を送るworkerは外部への出口を持つ
		{"external network", "external:"},
	}
	for _, c := range checks {
		if !strings.Contains(content, c.want) {
			t.Errorf("%s: docker-compose.yml should contain %q", c.name, c.want)
		}
	}
}
