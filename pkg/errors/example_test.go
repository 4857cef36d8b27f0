// Package errors provides examples of structured error handling in floatfeed.
package errors_test

import (
	stderrors "errors"
	"fmt"
	"io"

	"github.com/ajitpratap0/floatfeed/pkg/errors"
)

// Example demonstrates basic error creation and details.
func Example() {
	err := errors.New(errors.ErrorTypeConfig, "mirror requires crop_size > 0")

	err = err.WithDetail("crop_size", 0).
		WithDetail("mirror", true)

	fmt.Println(err.Error())

	// Output:
	// config: mirror requires crop_size > 0
}

// ExampleWrap shows how store failures keep their cause.
func ExampleWrap() {
	originalErr := io.ErrUnexpectedEOF

	err := errors.Wrap(originalErr, errors.ErrorTypeStoreIO, "failed to read current record").
		WithDetail("backend", "leveldb")

	if errors.IsType(err, errors.ErrorTypeStoreIO) {
		fmt.Println("store failure")
	}

	if stderrors.Is(err, io.ErrUnexpectedEOF) {
		fmt.Println("caused by unexpected EOF")
	}

	// Output:
	// store failure
	// caused by unexpected EOF
}

// ExampleTypeOf demonstrates classifying arbitrary errors.
func ExampleTypeOf() {
	dataErr := errors.Newf(errors.ErrorTypeData, "record has %d floats, want %d", 12, 16)
	fmt.Println(errors.TypeOf(dataErr))
	fmt.Println(errors.TypeOf(io.EOF))

	// Output:
	// data
	// internal
}
