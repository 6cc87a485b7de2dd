package config

import "testing"

func TestValidateRejectsZeroDimensions(t *testing.T) {
	c := &Config{Width: 0, Height: 100, FPS: 1, StatisticsSaveIntervalS: 1}
	if err := c.validate(); err == nil {
		t.Fatal("expected an error for zero width")
	}
}

func TestValidateRejectsNonPositiveFPS(t *testing.T) {
	c := &Config{Width: 1, Height: 1, FPS: 0, StatisticsSaveIntervalS: 1}
	if err := c.validate(); err == nil {
		t.Fatal("expected an error for zero fps")
	}
}

func TestValidateRequiresFontWithText(t *testing.T) {
	c := &Config{Width: 1, Height: 1, FPS: 1, StatisticsSaveIntervalS: 1, Text: "hello"}
	if err := c.validate(); err == nil {
		t.Fatal("expected an error for --text without --font")
	}
}

func TestValidateRejectsNegativeConnectionsPerIP(t *testing.T) {
	c := &Config{Width: 1, Height: 1, FPS: 1, StatisticsSaveIntervalS: 1, ConnectionsPerIP: -1}
	if err := c.validate(); err == nil {
		t.Fatal("expected an error for negative --connections-per-ip")
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	c := &Config{Width: 1280, Height: 720, FPS: 30, StatisticsSaveIntervalS: 30}
	if err := c.validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}
