package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "server":
		return serverTemplate, nil
	case "probe":
		return probeTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

// Validate loads path as the given kind without starting anything.
func Validate(kind, path string) error {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "server":
		_, err := LoadServerConfig(path)
		return err
	case "probe":
		_, err := LoadProbeConfig(path)
		return err
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
	}
}

const serverTemplate = `name = "ghostwired"
listen_addr = ":7400"
admin_addr = "127.0.0.1:7401"
stream_addr = ""
tick_rate = 20
workers = 0
max_payload_bytes = 4194304
population = 64
chunk_capacity = 64
metrics = true
tracing_endpoint = ""
cors_origins = ["http://localhost:3000"]
admin_token = ""

[session]
handshake_timeout = "5s"
write_timeout = "2s"
idle_timeout = "15s"
`

const probeTemplate = `name = "ghostprobe"
server_url = "ws://127.0.0.1:7400/ws"
history = 8
ack_every = 1
duration = "0s"
report_every = "2s"

[session]
connect_timeout = "5s"
handshake_timeout = "5s"
write_timeout = "2s"
backoff_initial = "250ms"
backoff_max = "5s"
backoff_multiplier = 2.0
max_attempts = 0
`
