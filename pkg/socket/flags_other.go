//go:build !linux

package socket

const typeFlags = 0
