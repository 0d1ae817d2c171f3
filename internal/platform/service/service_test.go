//go:build !windows

package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRun_Foreground(t *testing.T) {
	boom := errors.New("boom")
	called := false
	err := Run(context.Background(), "TS-Alarms", func(ctx context.Context) error {
		called = true
		return boom
	})
	assert.True(t, called)
	assert.ErrorIs(t, err, boom)
}
