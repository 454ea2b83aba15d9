/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy for game operations. NotFound and DuplicateSession are
// per-request conditions surfaced to the offending connection only;
// CapacityExhausted indicates systemic overload and is logged loudly.
var (
	errRoomNotFound      = errors.New("game not found")
	errDuplicateSession  = errors.New("identity already active in this game")
	errCapacityExhausted = errors.New("game code keyspace exhausted")
	errMalformedInput    = errors.New("malformed request")
)

func newPage(title, body string) string {
	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
	htmlBody.WriteString(getFavicon())
	htmlBody.WriteString(`<style>`)
	htmlBody.WriteString(`html,body,a{display:block;height:100%;width:100%;text-decoration:none;color:inherit;cursor:auto;}</style>`)
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title></head>", title))
	htmlBody.WriteString(fmt.Sprintf("<body><a href=\"/\">%s</a></body></html>", body))

	return htmlBody.String()
}
