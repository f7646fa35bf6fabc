// Package link provides the point-to-point message protocol used to talk
// to a peripheral controller over a Bluetooth SPP or USB serial link.
package link

// The protocol has two layers.
//
// The inner message is channel agnostic:
//
//	| CHECKSUM | KIND | PAYLOAD ... |
//
// where CHECKSUM is the additive checksum (sum mod 256) of KIND and PAYLOAD.
//
// The outer frame is only used on byte streams (USB), where a read may
// return any number of bytes:
//
//	| 0xAA | LEN_H | LEN_L | DATA[LEN] | TRAILER |
//
// where TRAILER is the two's complement of LEN_H + LEN_L + sum(DATA).
//
// Every valid message other than an Ack is acknowledged by sending back an
// Ack message carrying its checksum. The sender keeps a message at the head
// of its queue and retransmits it until the matching Ack arrives, unless the
// kind is fire-and-forget.
