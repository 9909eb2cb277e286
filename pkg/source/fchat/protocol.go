// Copyright 2024-2026 Aiku AI

package fchat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Commands exchanged with the chat server.
const (
	cmdIdentify = "IDN"
	cmdPing     = "PIN"
	cmdChannel  = "MSG"
	cmdPrivate  = "PRI"
	cmdError    = "ERR"
)

var errEmptyFrame = errors.New("empty frame")

// identifyRequest is the IDN payload sent after connecting.
type identifyRequest struct {
	Method        string `json:"method"`
	Account       string `json:"account"`
	Ticket        string `json:"ticket"`
	Character     string `json:"character"`
	ClientName    string `json:"cname"`
	ClientVersion string `json:"cversion"`
}

type identifyReply struct {
	Character string `json:"character"`
}

// messagePayload covers MSG and PRI frames.
type messagePayload struct {
	Character string `json:"character"`
	Message   string `json:"message"`
	Channel   string `json:"channel,omitempty"`
	Recipient string `json:"recipient,omitempty"`
}

type errorPayload struct {
	Number  int    `json:"number"`
	Message string `json:"message"`
}

// parseFrame splits a frame into its three letter command and optional JSON
// payload. Frames look like "PIN" or "MSG {...}".
func parseFrame(data []byte) (string, json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return "", nil, errEmptyFrame
	}
	cmd, rest, found := bytes.Cut(data, []byte(" "))
	if !found {
		return string(cmd), nil, nil
	}
	rest = bytes.TrimSpace(rest)
	if !json.Valid(rest) {
		return string(cmd), nil, fmt.Errorf("invalid %s payload", cmd)
	}
	return string(cmd), json.RawMessage(rest), nil
}

// encodeFrame builds a frame from a command and an optional payload.
func encodeFrame(cmd string, payload any) ([]byte, error) {
	if payload == nil {
		return []byte(cmd), nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", cmd, err)
	}
	return append([]byte(cmd+" "), data...), nil
}
