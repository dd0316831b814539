package logparse

import (
	"testing"

	"github.com/tinytelemetry/lotus/internal/model"
)

func TestSeverityFromName(t *testing.T) {
	tests := []struct {
		input    string
		expected model.Severity
		ok       bool
	}{
		// Standard forms
		{"TRACE", model.SeverityDebug, true}, {"DEBUG", model.SeverityDebug, true},
		{"INFO", model.SeverityInformational, true}, {"NOTICE", model.SeverityNotice, true},
		{"WARN", model.SeverityWarning, true}, {"ERROR", model.SeverityError, true},
		{"CRITICAL", model.SeverityCritical, true}, {"ALERT", model.SeverityAlert, true},
		{"EMERG", model.SeverityEmergency, true},
		// Variants
		{"DBG", model.SeverityDebug, true}, {"INF", model.SeverityInformational, true},
		{"WARNING", model.SeverityWarning, true}, {"WRN", model.SeverityWarning, true},
		{"ERR", model.SeverityError, true}, {"FATAL", model.SeverityCritical, true},
		{"PANIC", model.SeverityEmergency, true},
		// Case insensitive
		{"info", model.SeverityInformational, true}, {"warn", model.SeverityWarning, true},
		// Prefix matching
		{"WARNING_LEVEL", model.SeverityWarning, true}, {"ERROR_CODE_42", model.SeverityError, true},
		{"CRITICAL_ALERT", model.SeverityCritical, true},
		// Whitespace
		{"  INFO  ", model.SeverityInformational, true}, {"\tWARN\t", model.SeverityWarning, true},
		// Unknown
		{"", 0, false}, {"UNKNOWN", 0, false}, {"foo", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := SeverityFromName(tt.input)
			if ok != tt.ok || got != tt.expected {
				t.Errorf("SeverityFromName(%q) = (%d, %v), want (%d, %v)", tt.input, got, ok, tt.expected, tt.ok)
			}
		})
	}
}

func TestSeverityFromNumber(t *testing.T) {
	tests := []struct {
		input    int
		expected model.Severity
		ok       bool
	}{
		{0, model.SeverityEmergency, true},
		{3, model.SeverityError, true},
		{7, model.SeverityDebug, true},
		{10, model.SeverityDebug, true},
		{20, model.SeverityDebug, true},
		{30, model.SeverityInformational, true},
		{40, model.SeverityWarning, true},
		{50, model.SeverityError, true},
		{60, model.SeverityCritical, true},
		{-1, 0, false},
	}

	for _, tt := range tests {
		got, ok := SeverityFromNumber(tt.input)
		if ok != tt.ok || got != tt.expected {
			t.Errorf("SeverityFromNumber(%d) = (%d, %v), want (%d, %v)", tt.input, got, ok, tt.expected, tt.ok)
		}
	}
}

func TestSeverityFromValue(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected model.Severity
		ok       bool
	}{
		{"float", float64(4), model.SeverityWarning, true},
		{"fractional float", 2.5, 0, false},
		{"numeric string", "3", model.SeverityError, true},
		{"name", "debug", model.SeverityDebug, true},
		{"bool", true, 0, false},
		{"nil", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SeverityFromValue(tt.input)
			if ok != tt.ok || got != tt.expected {
				t.Errorf("SeverityFromValue(%v) = (%d, %v), want (%d, %v)", tt.input, got, ok, tt.expected, tt.ok)
			}
		})
	}
}
