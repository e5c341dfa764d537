package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// defaultConfigYAML is the starter configuration written by init.
// Values track [config.Default]; the API key comes from the environment
// so the file can be committed without leaking credentials.
const defaultConfigYAML = `# Skald configuration
listen:
  address: "127.0.0.1"
  port: 8484

gateway:
  base_url: "https://gateway.skald.dev"
  api_key: "${SKALD_API_KEY}"
  model: "openai/gpt-4o-mini"
  max_tokens: 1024
  temperature: 0.7
  request_timeout_sec: 120

agent:
  max_turns: 5
  tool_timeout_sec: 30

data_dir: "data"
log_level: "info"
log_format: "text"
`

// runInit initializes a Skald working directory with default files.
// Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Skald workspace in %s\n", dir)

	dataDir := filepath.Join(dir, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dataDir, err)
	}

	configPath := filepath.Join(dir, "skald.yaml")
	if err := writeIfMissing(configPath, []byte(defaultConfigYAML)); err != nil {
		return err
	}
	fmt.Fprintf(w, "  ✓ %s\n", configPath)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit skald.yaml and set SKALD_API_KEY to leave demo mode.")
	return nil
}

// writeIfMissing writes content to path only if the file does not
// already exist, so init never overwrites user customizations.
func writeIfMissing(path string, content []byte) error {
	if _, err := os.Stat(path); err == nil {
		return nil // already exists, skip
	}
	return os.WriteFile(path, content, 0o644)
}
