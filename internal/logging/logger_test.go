package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestInitConsoleLogger(t *testing.T) {
	tests := []struct {
		name      string
		verbose   bool
		jsonLog   bool
		wantDebug bool
	}{
		{"default", false, false, false},
		{"verbose", true, false, true},
		{"json", false, true, false},
		{"verbose json", true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := InitConsoleLogger(tt.verbose, tt.jsonLog)
			if err != nil {
				t.Fatalf("InitConsoleLogger: %v", err)
			}
			if got := logger.Core().Enabled(zapcore.DebugLevel); got != tt.wantDebug {
				t.Errorf("debug enabled = %v, want %v", got, tt.wantDebug)
			}
			if !logger.Core().Enabled(zapcore.InfoLevel) {
				t.Error("info level disabled")
			}
		})
	}
}
