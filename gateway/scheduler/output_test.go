// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

package scheduler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeOutput(t *testing.T) {
	// "你好" in the GBK code page
	gbk := []byte{0xc4, 0xe3, 0xba, 0xc3}

	require.Equal(t, "你好", decodeOutput("gbk", gbk))
	require.Equal(t, "你好", decodeOutput("GB2312", gbk))

	// unknown names and the empty default pass the bytes through
	require.Equal(t, "plain", decodeOutput("", []byte("plain")))
	require.Equal(t, string(gbk), decodeOutput("latin1", gbk))
}
