//go:build !linux

package main

import (
	"context"
	"time"

	"github.com/srodi/jitterlens/pkg/ui"
)

func startLiveView(context.Context, *ui.Tracker, time.Time, time.Duration) func() {
	return func() {}
}
