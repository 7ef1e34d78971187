package config

import (
	"errors"
	"testing"

	"github.com/flexld/flexld/internal/linkerr"
)

func baseConfig() *Config {
	return &Config{Inputs: []string{"a.o"}, Output: "a.out", Entry: "_start"}
}

func TestValidateRejectsNoInputs(t *testing.T) {
	c := baseConfig()
	c.Inputs = nil
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for no inputs")
	}
}

func TestValidateRejectsSonameWithoutShared(t *testing.T) {
	c := baseConfig()
	c.SoName = "libfoo.so.1"
	c.Mode = ModeNoPIE
	err := c.Validate()
	if !errors.Is(err, linkerr.ErrSonameRequiresShared) {
		t.Errorf("err = %v, want ErrSonameRequiresShared", err)
	}
}

func TestValidateAllowsSonameWithShared(t *testing.T) {
	c := baseConfig()
	c.SoName = "libfoo.so.1"
	c.Mode = ModeShared
	if err := c.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateRejectsRelroNowWithoutPIE(t *testing.T) {
	c := baseConfig()
	c.Mode = ModeNoPIE
	c.Relro = RelroNow
	err := c.Validate()
	if !errors.Is(err, linkerr.ErrNowRequiresPIE) {
		t.Errorf("err = %v, want ErrNowRequiresPIE", err)
	}
}

func TestValidateRejectsSysrootRelativeLibraryPath(t *testing.T) {
	c := baseConfig()
	c.Mode = ModeNoPIE
	c.LibraryPaths = []string{"=/usr/lib"}
	err := c.Validate()
	if !errors.Is(err, linkerr.ErrSysrootPathUnsupported) {
		t.Errorf("err = %v, want ErrSysrootPathUnsupported", err)
	}
}

func TestValidateAcceptsOrdinaryConfig(t *testing.T) {
	c := baseConfig()
	c.Mode = ModeNoPIE
	c.LibraryPaths = []string{"/usr/lib/x86_64-linux-gnu"}
	if err := c.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadWithNoPathAppliesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Output != "a.out" {
		t.Errorf("Output = %q, want a.out", cfg.Output)
	}
	if cfg.Entry != "_start" {
		t.Errorf("Entry = %q, want _start", cfg.Entry)
	}
}
