package config

import "errors"

var (
	ErrReadConfig   = errors.New("read config file")
	ErrDecodeConfig = errors.New("decode config")
)
