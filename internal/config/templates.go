package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "tipctl":
		return tipctlTemplate, nil
	case "signalmon":
		return signalmonTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

// Kinds lists the template names Template accepts.
func Kinds() []string {
	return []string{"tipctl", "signalmon"}
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

const tipctlTemplate = `name = "tipctl"

[log]
level = "info"
action_log = "tipctl-actions.jsonl"

[instrument]
address = "127.0.0.1:6501"
connect_timeout = "5s"
call_timeout = "10s"
max_connect_attempts = 3

[stream]
address = "127.0.0.1:6590"
capacity = 256
read_timeout = "5s"
sample_interval = "1ms"
channel_map = ""
channels = [0, 1, 2]
oversampling = 10

[controller]
signal = "Current"
window = 200
consecutive = 3
measure_timeout = "5s"
settle_time = "500ms"
approach_timeout = "5m"
withdraw_timeout = "30s"
restore_bias = 0.1
max_cycles = 50
max_duration = "30m"
relocate_every = 0
relocate_dx = 0.0
relocate_dy = 0.0

[controller.pulse]
method = "stepping"
start = 3.0
step = 0.5
ceiling = 8.0
cycles_per_step = 2
width = "50ms"
z_hold = "on"

[controller.polarity]
initial = "+"
mode = "fixed"
switch_probability = 0.0
seed = 0

[controller.stability]
kind = "trend"
min_samples = 20
max_drift = 5e-11
max_std_dev = 2e-11

[monitor]
enabled = false
signals = ["Current", "Z", "Bias"]
period = "100ms"
queue_size = 64
overflow = "drop_oldest"
jsonl = "tipctl-monitor.jsonl"

[status]
enabled = true
addr = ":9200"
cors_origins = ["http://localhost:3000"]
`

const signalmonTemplate = `name = "signalmon"

[log]
level = "info"

[instrument]
address = "127.0.0.1:6501"
call_timeout = "5s"
max_connect_attempts = -1

[stream]
address = "127.0.0.1:6590"

[monitor]
enabled = true
signals = ["Current", "Z", "Bias"]
period = "100ms"
queue_size = 256
overflow = "drop_oldest"
wait_newest = false
rolling_signal = "Current"
rolling_window = 50
jsonl = "signalmon.jsonl"
msgpack = ""
duckdb = "signalmon.duckdb"
nats_url = ""
nats_subject = "tipctl.monitor"

[monitor.stability]
kind = "boundary"
lower = 1e-10
upper = 5e-10

[status]
enabled = true
addr = ":9201"
`
