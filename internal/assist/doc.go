// Package assist asks an OpenAI-compatible chat service to repair engine
// configuration text that failed validation.
//
// The service only proposes text. The keymap pipeline re-validates whatever
// comes back and falls back to its local rules when the service is
// unreachable, slow or wrong.
package assist
