package sectorfs

import (
	"errors"
)

var (
	ErrNotFound = errors.New("no entry at path")
	ErrExists   = errors.New("entry already exists")
	ErrDirFull  = errors.New("directory table full")
	ErrNoSpace  = errors.New("not enough free sectors")
	ErrIO       = errors.New("disk io failure")
)
