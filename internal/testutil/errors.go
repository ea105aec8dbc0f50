package testutil

import "errors"

// ErrNotConnected is returned by FakeChannel.SendTask for unknown paws.
var ErrNotConnected = errors.New("testutil: agent not connected")
