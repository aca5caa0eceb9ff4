package schema

import (
	"errors"
	"testing"

	"github.com/danmuck/tipctl/internal/protocol"
	"github.com/danmuck/tipctl/internal/testutil/testlog"
)

func TestValidateKnownCommand(t *testing.T) {
	testlog.Start(t)
	args := []protocol.Arg{
		protocol.Bool(true),
		protocol.Float32(0.1),
		protocol.Float32(3),
		protocol.Uint16(0),
		protocol.Uint16(2),
	}
	if err := Validate(BiasPulse, args); err != nil {
		t.Fatalf("validate pulse: %v", err)
	}
}

func TestValidateUnknownCommand(t *testing.T) {
	testlog.Start(t)
	err := Validate("Bias.Explode", nil)
	var ve ValidationError
	if !errors.As(err, &ve) || ve.ArgIndex != -1 {
		t.Fatalf("expected unknown command validation error, got %v", err)
	}
}

func TestValidateArgCountAndTag(t *testing.T) {
	testlog.Start(t)
	if err := Validate(BiasSet, nil); err == nil {
		t.Fatalf("expected arg count error")
	}
	err := Validate(BiasSet, []protocol.Arg{protocol.Float64(1)})
	var ve ValidationError
	if !errors.As(err, &ve) || ve.ArgIndex != 0 {
		t.Fatalf("expected tag mismatch at arg 0, got %v", err)
	}
}

func TestCatalogTagsAreValid(t *testing.T) {
	testlog.Start(t)
	for _, name := range Names() {
		c, ok := Lookup(name)
		if !ok || c.Name != name {
			t.Fatalf("catalog entry %q inconsistent", name)
		}
		for _, tag := range append(append([]protocol.Tag{}, c.Args...), c.Returns...) {
			if !tag.Valid() {
				t.Fatalf("%s uses invalid tag %q", name, tag)
			}
		}
		if len(name) > protocol.NameSize {
			t.Fatalf("%s exceeds header name size", name)
		}
	}
}
