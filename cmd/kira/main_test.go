package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/haasonsaas/kira/internal/agent"
	"github.com/haasonsaas/kira/internal/host"
	"github.com/haasonsaas/kira/internal/vault"
)

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, exitOK},
		{host.ErrValidation, exitValidation},
		{fmt.Errorf("wrap: %w", host.ErrNotFound), exitValidation},
		{host.ErrConflict, exitConflict},
		{host.ErrDuplicateID, exitConflict},
		{host.ErrFSMGuard, exitFSM},
		{vault.ErrLockTimeout, exitIO},
		{agent.ErrSessionBusy, exitIO},
		{vault.ErrMalformed, exitIO},
		{fmt.Errorf("%w: bad yaml", errConfig), exitConfig},
		{errors.New("mystery"), exitUnknown},
	}
	for _, tc := range cases {
		if got := exitCode(tc.err); got != tc.want {
			t.Errorf("exitCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
