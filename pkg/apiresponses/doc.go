// Package apiresponses provides the JSON error body and response helpers
// shared by every API controller.
package apiresponses
