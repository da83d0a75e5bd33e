package main

import (
	"errors"

	sageerrors "github.com/odvcencio/sagecell/pkg/errors"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitUsage   = 2
	exitConnect = 3
)

type exitCoder interface {
	ExitCode() int
}

type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e exitError) Unwrap() error {
	return e.err
}

func (e exitError) ExitCode() int {
	if e.code == 0 {
		return exitRuntime
	}
	return e.code
}

func withExitCode(err error, code int) error {
	if err == nil {
		return nil
	}
	return exitError{code: code, err: err}
}

func usageError(err error) error {
	return withExitCode(err, exitUsage)
}

func exitCodeForError(err error) int {
	if err == nil {
		return exitOK
	}
	var coded exitCoder
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	if sageerrors.IsCode(err, sageerrors.ErrCodeConnect) {
		return exitConnect
	}
	if sageerrors.IsCode(err, sageerrors.ErrCodeConfigLoad) ||
		sageerrors.IsCode(err, sageerrors.ErrCodeConfigParse) ||
		sageerrors.IsCode(err, sageerrors.ErrCodeConfigInvalid) {
		return exitUsage
	}
	return exitRuntime
}
