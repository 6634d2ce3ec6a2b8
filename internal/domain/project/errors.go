package project

import "errors"

var (
	ErrProjectNotFound = errors.New("project not found")
	ErrNotOwner        = errors.New("not project owner")
	ErrLinkNotFound    = errors.New("link not found")
)
