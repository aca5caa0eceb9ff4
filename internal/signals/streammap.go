package signals

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// StandardStreamMap is the default TCP logger channel layout.
func StandardStreamMap() map[string]int {
	return map[string]int{
		"Current":           0,
		"Z":                 1,
		"Bias":              2,
		"OC M1 Freq. Shift": 3,
		"OC M1 Amplitude":   4,
		"OC M1 Excitation":  5,
		"OC M1 Phase":       6,
		"X":                 7,
		"Y":                 8,
	}
}

// streamMapFile is the on-disk shape:
//
//	channels:
//	  "Current (A)": 0
//	  "OC M1 Freq. Shift (Hz)": 3
type streamMapFile struct {
	Channels map[string]int `yaml:"channels"`
}

// LoadStreamMapYAML reads explicit name to channel pairs.
func LoadStreamMapYAML(path string) (map[string]int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ParseStreamMap(file)
}

func ParseStreamMap(r io.Reader) (map[string]int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var doc streamMapFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("signals: parse stream map: %w", err)
	}
	if len(doc.Channels) == 0 {
		return nil, fmt.Errorf("signals: stream map has no channels")
	}
	return doc.Channels, nil
}
