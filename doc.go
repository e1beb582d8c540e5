// Copyright (C) 2022 Saji Champlin. All Rights Reserved.

// Package chat implements the GopherChat wire protocol.
//
// GopherChat is a small multi-user chat protocol carried over a single
// persistent stream connection per client. Clients register and log in,
// exchange broadcast or direct text messages, request the user list, and
// transfer files in fixed-size chunks.
//
// # Frames
//
// Every protocol message is a [Frame]: a one-byte protocol version, a
// one-byte message kind, and a kind-specific payload. A frame is carried on
// the wire inside a delimited unit consisting of a magic byte (0xFE) and an
// 8-byte big-endian length, which lets a receiver split the byte stream back
// into frames. Use [Frame.AppendDelimited] to produce the wire form and a
// [Splitter] to recover frames from received bytes.
//
// A receiver that observes a bad magic byte or a mismatched protocol version
// must treat the stream as unrecoverably desynchronized and tear down the
// connection; no resynchronization is attempted.
//
// # Payloads
//
// The payload of a frame is decoded according to its kind via
// [DecodePayload]. Login and registration carry a [LoginPacket], text
// messages a [MessagePacket], file chunks a [FilePacket], and the user list
// a [ListPacket]. Control and error kinds carry an empty payload.
// Payload encodings are derived generically from each structure's ordered
// field list; see the packet subpackage.
package chat
