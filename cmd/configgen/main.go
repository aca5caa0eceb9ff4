package main

import (
	"flag"
	"log"

	"github.com/danmuck/tipctl/internal/config"
)

func defaultPath(kind string) string {
	switch kind {
	case "tipctl":
		return "cmd/tipctl/config.toml"
	case "signalmon":
		return "cmd/signalmon/config.toml"
	}
	log.Fatalf("unknown kind: %s (want one of %v)", kind, config.Kinds())
	return ""
}

func main() {
	kind := flag.String("kind", "tipctl", "config kind: tipctl|signalmon")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath(*kind)
		}
		cfg, err := config.Load(path)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated %s config at %s (instrument=%s monitor=%t status=%t)",
			*kind, path, cfg.Instrument.Address, cfg.Monitor.Enabled, cfg.Status.Enabled)
		return
	}

	target := *output
	if target == "" {
		target = defaultPath(*kind)
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}
