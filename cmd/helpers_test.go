package cmd

import (
	"io"
	"log/slog"
	"time"
)

func testNow() time.Time {
	return time.Unix(1700000000, 0)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
