package main

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestParseDuration(t *testing.T) {
	t.Cleanup(viper.Reset)

	viper.Set("caller.timeout", "250ms")
	if d, err := parseDuration("caller.timeout"); err != nil || d != 250*time.Millisecond {
		t.Errorf("valid setting: got %s, %v", d, err)
	}

	for _, raw := range []string{"10 seconds", "5", "", "0s", "-1m"} {
		viper.Set("health.check_interval", raw)
		if _, err := parseDuration("health.check_interval"); err == nil {
			t.Errorf("%q: expected error", raw)
		}
	}
}
