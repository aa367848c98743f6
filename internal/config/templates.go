package config

import (
	"fmt"
	"os"
)

func Template() string {
	return engineTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(engineTemplate), 0o600)
}

const engineTemplate = `[codec]
max_payload_bytes = 1048576

[conformance]
protocol_version = 1

[tp]
unit = 16
max_segment_payload = 1392
max_message_size = 1048576
reassembly_timeout = "5s"
sweep_interval = "1s"
max_buffers = 256

[endpoint]
listen = ":30490"
tcp_listen = ""
multicast_group = "224.224.224.245"
interface = ""
join_sd = true
metrics_addr = ""
peer_idle_timeout = "5m"
`
