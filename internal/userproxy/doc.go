// Package userproxy represents the human participant in the shared space.
// It publishes the user's questions, collects assistant replies until the
// moderator routes the turn back, and serves them over a small HTTP API.
package userproxy
