// Package gemini provides an implementation of the generation.Provider
// interface that uses Google's Gemini API to render coloring-book artwork.
//
// This package is an infrastructure adapter: it translates between the
// engine's generation payloads and the Gemini API without exposing the
// details of the external service to the engine.
//
// Key responsibilities:
//
//  1. Prompt assembly: folds the negative prompt and aspect-ratio hints
//     into the text prompt, since the image generation endpoint takes a
//     single prompt.
//  2. Response processing: extracts the first inline image from the
//     response candidates and validates that one is present.
//  3. Error translation: maps API status codes and safety blocks onto the
//     generation package's error taxonomy so the engine can tell transient
//     failures from permanent ones.
//
// The package depends on the google.golang.org/genai client library for
// communicating with the Gemini API.
package gemini
