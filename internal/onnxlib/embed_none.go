//go:build !(embed_onnx && ((darwin && arm64) || (linux && amd64) || (windows && amd64)))

package onnxlib

var libraryData []byte

const libraryName = ""
