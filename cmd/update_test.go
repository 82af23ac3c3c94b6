package cmd

import (
	"testing"

	"github.com/spf13/viper"
)

func TestUpdateCommand(t *testing.T) {
	if updateCmd == nil {
		t.Error("updateCmd is nil")
	}
	if updateCmd.Use != "update" {
		t.Errorf("expected use 'update', got %s", updateCmd.Use)
	}
}

func TestUpdateRequiresUser(t *testing.T) {
	orig := viper.GetString("user")
	defer viper.Set("user", orig)

	viper.Set("user", "")
	err := updateCmd.PreRunE(updateCmd, []string{})
	if err == nil {
		t.Error("Expected error when user is missing, got nil")
	} else if err.Error() != "required flag(s) \"user\" not set" {
		t.Errorf("Expected 'required flag(s) \"user\" not set', got %v", err)
	}

	viper.Set("user", "testuser")
	err = updateCmd.PreRunE(updateCmd, []string{})
	if err != nil {
		t.Errorf("Expected nil when user is set, got %v", err)
	}
}

func TestLoadConfigRejectsBadWeights(t *testing.T) {
	defer viper.Set("weights", map[string]interface{}{
		"frequency":   0.3,
		"tag_overlap": 0.3,
		"match":       0.2,
		"rarity":      0.2,
	})

	viper.Set("weights", map[string]interface{}{
		"frequency":   0.5,
		"tag_overlap": 0.5,
		"match":       0.5,
		"rarity":      0.5,
	})
	if _, err := loadConfig(); err == nil {
		t.Error("Expected error for weights summing to 2.0, got nil")
	}

	viper.Set("weights", map[string]interface{}{
		"frequency":   0.25,
		"tag_overlap": 0.25,
		"match":       0.25,
		"rarity":      0.25,
	})
	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error: %v", err)
	}
	if cfg.Weights.Match != 0.25 {
		t.Errorf("Weights.Match = %v, want 0.25", cfg.Weights.Match)
	}
}
