//go:build js && wasm

package main

import (
	"errors"
	"fmt"
	"syscall/js"

	"github.com/himanishpuri/landmarkdna/pkg/landmark/fingerprint"
)

// Error codes returned to JavaScript
const (
	ErrorNone = iota
	ErrorInvalidArgs
	ErrorProcessing
	ErrorInsufficientSignal
)

var fp *fingerprint.Fingerprinter

// generateLandmarks fingerprints audio samples with the default config, the
// same one the server uses unless it was reconfigured.
// Returns: {error: number, data: [{hash: string, offset: number}] | string}
//
// Hashes are decimal strings because a JavaScript number cannot hold 64 bits.
func generateLandmarks(this js.Value, args []js.Value) any {
	if len(args) < 3 {
		return makeErrorResponse(ErrorInvalidArgs, "Expected 3 arguments: audioArray, sampleRate, channels")
	}

	audioDataJS := args[0]
	sampleRateJS := args[1]
	channelsJS := args[2]

	if audioDataJS.Type() != js.TypeObject {
		return makeErrorResponse(ErrorInvalidArgs, "audioArray must be an Array or Float64Array")
	}
	if sampleRateJS.Type() != js.TypeNumber {
		return makeErrorResponse(ErrorInvalidArgs, "sampleRate must be a number")
	}
	if channelsJS.Type() != js.TypeNumber {
		return makeErrorResponse(ErrorInvalidArgs, "channels must be a number")
	}

	sampleRate := sampleRateJS.Int()
	channels := channelsJS.Int()

	if sampleRate <= 0 {
		return makeErrorResponse(ErrorInvalidArgs, fmt.Sprintf("Invalid sample rate: %d", sampleRate))
	}
	if channels < 1 || channels > 2 {
		return makeErrorResponse(ErrorInvalidArgs, fmt.Sprintf("Channels must be 1 (mono) or 2 (stereo), got: %d", channels))
	}

	length := audioDataJS.Length()
	if length == 0 {
		return makeErrorResponse(ErrorInvalidArgs, "audioArray is empty")
	}

	samples := make([]float64, length)
	for i := 0; i < length; i++ {
		val := audioDataJS.Index(i)
		if val.Type() != js.TypeNumber {
			return makeErrorResponse(ErrorInvalidArgs, fmt.Sprintf("audioArray element %d is not a number", i))
		}
		samples[i] = val.Float()
	}

	if channels == 2 {
		samples = stereoToMono(samples)
	}

	landmarks, err := fp.Fingerprint(samples, sampleRate)
	if errors.Is(err, fingerprint.ErrInsufficientSignal) {
		return makeErrorResponse(ErrorInsufficientSignal, err.Error())
	}
	if err != nil {
		return makeErrorResponse(ErrorProcessing, fmt.Sprintf("Failed to fingerprint audio: %v", err))
	}

	out := js.Global().Get("Array").New(len(landmarks))
	for i, lm := range landmarks {
		obj := js.Global().Get("Object").New()
		obj.Set("hash", lm.Hash.String())
		obj.Set("offset", lm.Offset)
		out.SetIndex(i, obj)
	}

	result := js.Global().Get("Object").New()
	result.Set("error", ErrorNone)
	result.Set("data", out)
	return result
}

func stereoToMono(stereo []float64) []float64 {
	mono := make([]float64, len(stereo)/2)
	for i := range mono {
		mono[i] = (stereo[i*2] + stereo[i*2+1]) / 2.0
	}
	return mono
}

func makeErrorResponse(errorCode int, message string) js.Value {
	result := js.Global().Get("Object").New()
	result.Set("error", errorCode)
	result.Set("data", message)
	return result
}

func main() {
	console := js.Global().Get("console")

	var err error
	fp, err = fingerprint.NewFingerprinter(fingerprint.DefaultConfig())
	if err != nil {
		if !console.IsUndefined() {
			console.Call("error", "landmarkdna: "+err.Error())
		}
		return
	}

	js.Global().Set("generateLandmarks", js.FuncOf(generateLandmarks))

	window := js.Global().Get("window")
	if !window.IsUndefined() {
		event := js.Global().Get("CustomEvent").New("wasmReady", js.Global().Get("Object").New())
		window.Call("dispatchEvent", event)
	} else if !console.IsUndefined() {
		console.Call("error", "landmarkdna: window object is undefined")
	}

	if !console.IsUndefined() {
		console.Call("log", "landmarkdna WASM module ready")
	}

	select {}
}
