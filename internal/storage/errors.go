package storage

import (
	"errors"
	"fmt"
)

// Kind classifies storage failures.
type Kind int

const (
	KindCorrupt Kind = iota + 1
	KindUnknownVersion
	KindIOFailure
)

func (k Kind) String() string {
	switch k {
	case KindCorrupt:
		return "corrupt"
	case KindUnknownVersion:
		return "unknown_version"
	case KindIOFailure:
		return "io_failure"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sentinels for errors.Is; every *Error matches the one of its Kind.
var (
	ErrCorrupt        = errors.New("save is corrupt")
	ErrUnknownVersion = errors.New("save version is not supported")
	ErrIOFailure      = errors.New("save i/o failed")
)

// Error is returned by every Engine operation.
type Error struct {
	Kind    Kind
	Op      string // "save", "load", "list", "delete"
	Path    string
	Version int // set for KindUnknownVersion
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Kind)
	if e.Kind == KindUnknownVersion {
		msg += fmt.Sprintf(" (version %d)", e.Version)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrCorrupt:
		return e.Kind == KindCorrupt
	case ErrUnknownVersion:
		return e.Kind == KindUnknownVersion
	case ErrIOFailure:
		return e.Kind == KindIOFailure
	}
	return false
}

// UserMessage is a short explanation suitable for showing to the player.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindCorrupt:
		return "This save file is damaged and cannot be loaded. The file was left untouched."
	case KindUnknownVersion:
		return fmt.Sprintf("This save was written by a newer version of the game (format %d). Please update the game.", e.Version)
	default:
		return "The save file could not be read or written. Check disk space and permissions."
	}
}

func corrupt(op, path string, err error) *Error {
	return &Error{Kind: KindCorrupt, Op: op, Path: path, Err: err}
}

func ioFailure(op, path string, err error) *Error {
	return &Error{Kind: KindIOFailure, Op: op, Path: path, Err: err}
}
