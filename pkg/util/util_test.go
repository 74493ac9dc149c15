package util

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCronExpr(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{expr: "*/15 * * * *"},
		{expr: "0 3 * * 1-5"},
		{expr: "* * * *", wantErr: true},
		{expr: "every day", wantErr: true},
		{expr: "0 0 0 * * *", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			err := ValidateCronExpr(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNextCronTime(t *testing.T) {
	from := time.Date(2026, 3, 1, 10, 7, 0, 0, time.UTC)

	next, err := NextCronTime("*/15 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC), next)

	_, err = NextCronTime("bogus", from)
	assert.Error(t, err)
}

func TestLoggerFrom(t *testing.T) {
	assert.Equal(t, slog.Default(), LoggerFrom(context.Background()))

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil)).With("request_id", "abc")
	ctx := WithLogger(context.Background(), logger)

	LoggerFrom(ctx).Info("hello")
	assert.Contains(t, buf.String(), "request_id=abc")
}
