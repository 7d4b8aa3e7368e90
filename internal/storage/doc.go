// Package storage is the relational store behind the bot.
//
// It keeps users and broadcasts, the table-backed job rows used by the
// sqlite job queue, and an append-only delivery audit. Both sqlite
// (modernc, cgo-free) and PostgreSQL are supported through bun; schema
// changes live in embedded SQL migrations per dialect.
package storage
