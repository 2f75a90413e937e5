package wellenbrecher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wellenbrecher-go/wellenbrecher/internal/config"
	"github.com/wellenbrecher-go/wellenbrecher/internal/firewall"
)

// TestServeFailsStartupWhenConnectionsPerIPSet exercises SPEC_FULL.md §7's
// "nftables apply failure | startup | process fails (unless
// --connections-per-ip absent)" row: Serve must fail before it ever tries
// to open the canvas or stand up a ring, since this build has no nftables
// backend to enforce the cap with.
func TestServeFailsStartupWhenConnectionsPerIPSet(t *testing.T) {
	cfg, err := config.Parse([]string{"--connections-per-ip", "5"})
	require.NoError(t, err)
	cfg.CanvasFileLink = "/nonexistent/should-never-be-touched"

	_, err = Serve(context.Background(), cfg, nil)
	require.Error(t, err)

	var sErr *Error
	require.True(t, errors.As(err, &sErr))
	assert.Equal(t, ErrCodeNotImplemented, sErr.Code)
	assert.True(t, errors.Is(err, firewall.ErrNotImplemented))
}
